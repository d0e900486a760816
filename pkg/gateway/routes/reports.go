package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/carescore/platform/pkg/common/apperrors"
	"github.com/carescore/platform/pkg/common/models"
	"github.com/carescore/platform/pkg/observability/metrics"
	"github.com/carescore/platform/pkg/reportapi"
	"github.com/carescore/platform/pkg/scoring"
	"github.com/carescore/platform/pkg/upload"
	"github.com/gorilla/mux"
)

// ReportSource is the read side of the report API.
type ReportSource interface {
	FetchReport(ctx context.Context, reportID string) (*models.Report, error)
	ListHistory(ctx context.Context, userID string) ([]models.Report, error)
	PDFURL(reportID string) string
}

// ReportsHandler serves the history, dashboard and analysis views and accepts
// report uploads.
type ReportsHandler struct {
	source     ReportSource
	thresholds scoring.Thresholds
	uploads    *upload.Service
	now        func() time.Time
}

func NewReportsHandler(source ReportSource, thresholds scoring.Thresholds, uploads *upload.Service) *ReportsHandler {
	return &ReportsHandler{
		source:     source,
		thresholds: thresholds,
		uploads:    uploads,
		now:        time.Now,
	}
}

func (h *ReportsHandler) Register(r *mux.Router) {
	r.HandleFunc("/reports/upload", h.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/reports/history", h.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/reports/important", h.handleImportant).Methods(http.MethodGet)
	r.HandleFunc("/reports/{id}/analysis", h.handleAnalysis).Methods(http.MethodGet)
	r.HandleFunc("/dashboard", h.handleDashboard).Methods(http.MethodGet)
}

func (h *ReportsHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	reports, ok := h.history(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filtered := scoring.Filter(reports, q.Get("q"), q.Get("type"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": h.thresholds.History(filtered),
	})
}

func (h *ReportsHandler) handleImportant(w http.ResponseWriter, r *http.Request) {
	reports, ok := h.history(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": h.thresholds.ImportantReports(reports),
	})
}

func (h *ReportsHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	reports, ok := h.history(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.thresholds.Summarize(reports, h.now()))
}

func (h *ReportsHandler) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := h.source.FetchReport(r.Context(), id)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if report == nil {
		writeError(w, apperrors.New(apperrors.KindNoDataExtracted, "Report not found."), nil)
		return
	}

	analysis := h.thresholds.Analyze(*report)
	analysis.PDFURL = h.source.PDFURL(id)
	writeJSON(w, http.StatusOK, analysis)
}

func (h *ReportsHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		badRequest(w, "user is required")
		return
	}

	maxBytes := h.uploads.MaxBytes()
	// leave room for the multipart framing around the file
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RecordUpload("rejected")
			writeError(w, apperrors.New(apperrors.KindInvalidUpload, upload.MsgTooLarge), nil)
			return
		}
		badRequest(w, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		badRequest(w, "failed to read file")
		return
	}

	res, err := h.uploads.Process(r.Context(), userID, reportapi.UploadFile{
		Name:        header.Filename,
		ContentType: partType(header.Header.Get("Content-Type")),
		Data:        data,
	})
	if err != nil {
		outcome := "failed"
		if errors.Is(err, apperrors.ErrInvalidUpload) {
			outcome = "rejected"
		}
		metrics.RecordUpload(outcome)
		writeError(w, err, nil)
		return
	}

	outcome := "accepted"
	if res.AIStatus == models.AIStatusQuotaExhausted {
		outcome = "manual_entry"
	}
	metrics.RecordUpload(outcome)
	writeJSON(w, http.StatusCreated, res)
}

func (h *ReportsHandler) history(w http.ResponseWriter, r *http.Request) ([]models.Report, bool) {
	userID := callerID(r)
	if userID == "" {
		badRequest(w, "user is required")
		return nil, false
	}
	reports, err := h.source.ListHistory(r.Context(), userID)
	if err != nil {
		writeError(w, err, nil)
		return nil, false
	}
	return reports, true
}

// partType drops the generic type some clients send so the upload service
// detects the real one.
func partType(ct string) string {
	if ct == "application/octet-stream" {
		return ""
	}
	return ct
}
