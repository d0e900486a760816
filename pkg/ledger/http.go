package ledger

import (
	"encoding/json"
	"net/http"

	"github.com/carescore/platform/pkg/common/logger"
	"github.com/gorilla/mux"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/confirmations/{reportId}", h.handleList).Methods(http.MethodGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	reportID := mux.Vars(r)["reportId"]
	recs, err := h.service.List(r.Context(), reportID)
	if err != nil {
		logger.Log.WithError(err).WithField("report_id", reportID).Error("failed to list confirmations")
		http.Error(w, "failed to list confirmations", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []ConfirmationRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"report_id":     reportID,
		"confirmations": recs,
	})
}
