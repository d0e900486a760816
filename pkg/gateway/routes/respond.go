package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/carescore/platform/pkg/common/apperrors"
	"github.com/carescore/platform/pkg/common/logger"
	"github.com/carescore/platform/pkg/confirmation"
	"github.com/carescore/platform/pkg/gateway/middleware"
	"github.com/carescore/platform/pkg/session"
)

type errorBody struct {
	Kind    string               `json:"kind"`
	Error   string               `json:"error"`
	Rows    []apperrors.RowFault `json:"rows,omitempty"`
	Session *sessionResponse     `json:"session,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}

// writeError answers with the status of err's kind. view, when set, carries
// the session as it stands after the failure.
func writeError(w http.ResponseWriter, err error, view *sessionResponse) {
	body := errorBody{Kind: "internal_error", Error: "Internal server error", Session: view}
	status := http.StatusInternalServerError

	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		status = apperrors.HTTPStatus(appErr.Kind)
		body.Kind = string(appErr.Kind)
		body.Error = appErr.Message
		body.Rows = appErr.Rows
		if body.Error == "" {
			body.Error = string(appErr.Kind)
		}
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
		body.Kind = string(apperrors.KindSessionNotFound)
		body.Error = "Session not found."
	case errors.Is(err, session.ErrLocked):
		status = http.StatusConflict
		body.Kind = string(apperrors.KindInFlight)
		body.Error = "Submission already in progress."
	case errors.Is(err, confirmation.ErrRowNotFound):
		status = http.StatusNotFound
		body.Kind = "row_not_found"
		body.Error = err.Error()
	case errors.Is(err, confirmation.ErrNotEditable), errors.Is(err, confirmation.ErrUnknownField):
		status = http.StatusBadRequest
		body.Kind = "invalid_edit"
		body.Error = err.Error()
	default:
		logger.Log.WithError(err).Error("unhandled gateway error")
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Kind: "bad_request", Error: msg})
}

// callerID is the authenticated user, or the user_id query parameter when the
// gateway runs without authentication.
func callerID(r *http.Request) string {
	if user, ok := middleware.UserFrom(r.Context()); ok {
		return user.ID
	}
	return r.URL.Query().Get("user_id")
}
