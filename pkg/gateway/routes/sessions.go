package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/carescore/platform/pkg/common/apperrors"
	"github.com/carescore/platform/pkg/common/logger"
	"github.com/carescore/platform/pkg/common/models"
	"github.com/carescore/platform/pkg/confirmation"
	"github.com/carescore/platform/pkg/observability/metrics"
	"github.com/carescore/platform/pkg/session"
	"github.com/carescore/platform/pkg/submission"
	"github.com/carescore/platform/pkg/upload"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// SessionHandler serves confirmation sessions. Every mutating request holds
// the session lock from load to save, and a confirm records the Submitting
// state before calling the report API, so a second confirm on the same
// session is refused while the first is still in flight.
type SessionHandler struct {
	sessions  session.Store
	remote    submission.Store
	publisher submission.Publisher
	policy    confirmation.Policy
	maxBody   int64

	submitTimeout time.Duration
}

type SessionOption func(*SessionHandler)

func WithPublisher(p submission.Publisher) SessionOption {
	return func(h *SessionHandler) { h.publisher = p }
}

func WithPolicy(p confirmation.Policy) SessionOption {
	return func(h *SessionHandler) { h.policy = p }
}

func WithMaxBody(n int64) SessionOption {
	return func(h *SessionHandler) { h.maxBody = n }
}

// WithSubmitTimeout bounds the analysis request of a confirm. Keep it below
// the session lock TTL so the lock outlives the request.
func WithSubmitTimeout(d time.Duration) SessionOption {
	return func(h *SessionHandler) { h.submitTimeout = d }
}

func NewSessionHandler(sessions session.Store, remote submission.Store, opts ...SessionOption) *SessionHandler {
	h := &SessionHandler{sessions: sessions, remote: remote, maxBody: 1 << 20}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *SessionHandler) Register(r *mux.Router) {
	r.HandleFunc("/sessions", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", h.handleDiscard).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/load", h.handleReload).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/manual", h.handleManual).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/rows", h.handleAddRow).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/rows/{rowId}", h.handleEditCell).Methods(http.MethodPatch)
	r.HandleFunc("/sessions/{id}/rows/{rowId}", h.handleRemoveRow).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/confirm", h.handleConfirm).Methods(http.MethodPost)
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	submission.View
}

type createSessionRequest struct {
	ReportID string `json:"report_id"`
	AIStatus string `json:"ai_status,omitempty"`
}

type addRowRequest struct {
	Kind models.RowKind `json:"kind"`
}

type editCellRequest struct {
	Field confirmation.Field `json:"field"`
	Value string             `json:"value"`
}

func (h *SessionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	id := uuid.New().String()
	userID := callerID(r)
	ctrl := submission.New(h.remote, req.ReportID, h.options(id, userID,
		submission.WithUserID(userID),
		submission.WithNotice(upload.NoticeFor(req.AIStatus)),
		submission.WithPolicy(h.policy),
	)...)

	// a failed load leaves the session in load_error; the view carries the message
	if err := ctrl.Load(r.Context()); err != nil {
		metrics.RecordSessionError("load", string(apperrors.KindOf(err)))
	}
	if err := h.sessions.Save(r.Context(), id, ctrl.Snapshot()); err != nil {
		writeError(w, err, nil)
		return
	}

	h.log(r, id).WithFields(logrus.Fields{
		"report_id": req.ReportID,
		"state":     ctrl.State(),
	}).Info("confirmation session created")
	writeJSON(w, http.StatusCreated, view(id, ctrl))
}

func (h *SessionHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := h.load(r, id)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view(id, submission.Restore(h.remote, snap, submission.WithSubmitTimeout(h.submitTimeout))))
}

func (h *SessionHandler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.mutate(r, id, func(ctx context.Context, _ *submission.Controller) error {
		return h.sessions.Delete(ctx, id)
	}, false)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "load", func(ctx context.Context, c *submission.Controller) error {
		return c.Load(ctx)
	})
}

func (h *SessionHandler) handleManual(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "manual", func(_ context.Context, c *submission.Controller) error {
		return c.StartManualEntry()
	})
}

func (h *SessionHandler) handleAddRow(w http.ResponseWriter, r *http.Request) {
	var req addRowRequest
	if !h.decode(w, r, &req) {
		return
	}
	switch req.Kind {
	case models.RowKeyValue, models.RowTest:
	default:
		badRequest(w, "kind must be key_value or test")
		return
	}
	h.respond(w, r, "edit", func(_ context.Context, c *submission.Controller) error {
		_, err := c.AddRow(req.Kind)
		return err
	})
}

func (h *SessionHandler) handleEditCell(w http.ResponseWriter, r *http.Request) {
	var req editCellRequest
	if !h.decode(w, r, &req) {
		return
	}
	rowID := mux.Vars(r)["rowId"]
	h.respond(w, r, "edit", func(_ context.Context, c *submission.Controller) error {
		return c.EditCell(rowID, req.Field, req.Value)
	})
}

func (h *SessionHandler) handleRemoveRow(w http.ResponseWriter, r *http.Request) {
	rowID := mux.Vars(r)["rowId"]
	h.respond(w, r, "edit", func(_ context.Context, c *submission.Controller) error {
		return c.RemoveRow(rowID)
	})
}

func (h *SessionHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "submit", func(ctx context.Context, c *submission.Controller) error {
		_, err := c.Confirm(ctx)
		return err
	})
}

// respond runs op against the locked session and answers with the resulting
// view. The session is saved even when op fails, since failures move state.
func (h *SessionHandler) respond(w http.ResponseWriter, r *http.Request, phase string, op func(context.Context, *submission.Controller) error) {
	id := mux.Vars(r)["id"]
	var ctrl *submission.Controller
	err := h.mutate(r, id, func(ctx context.Context, c *submission.Controller) error {
		ctrl = c
		return op(ctx, c)
	}, true)

	if err != nil {
		if ctrl == nil {
			writeError(w, err, nil)
			return
		}
		metrics.RecordSessionError(phase, string(apperrors.KindOf(err)))
		v := view(id, ctrl)
		writeError(w, err, &v)
		return
	}
	writeJSON(w, http.StatusOK, view(id, ctrl))
}

// mutate locks the session, restores it, runs op and saves the result.
func (h *SessionHandler) mutate(r *http.Request, id string, op func(context.Context, *submission.Controller) error, save bool) error {
	ctx := r.Context()
	release, err := h.sessions.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	snap, err := h.load(r, id)
	if err != nil {
		return err
	}
	ctrl := submission.Restore(h.remote, snap, h.options(id, snap.UserID,
		submission.WithSubmitTimeout(h.submitTimeout),
		submission.WithCheckpoint(func(s submission.Snapshot) error {
			return h.sessions.Save(context.WithoutCancel(ctx), id, s)
		}),
	)...)

	opErr := op(ctx, ctrl)
	// a refused confirm must not overwrite the snapshot of the one in flight
	if save && !errors.Is(opErr, apperrors.ErrInFlight) {
		// a cancelled request still records where the session ended up
		if err := h.sessions.Save(context.WithoutCancel(ctx), id, ctrl.Snapshot()); err != nil {
			h.log(r, id).WithError(err).Error("failed to save session")
			if opErr == nil {
				return err
			}
		}
	}
	return opErr
}

// load fetches a snapshot owned by the caller. Other users' sessions are
// reported as missing.
func (h *SessionHandler) load(r *http.Request, id string) (submission.Snapshot, error) {
	snap, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		return submission.Snapshot{}, err
	}
	if caller := callerID(r); snap.UserID != "" && caller != snap.UserID {
		return submission.Snapshot{}, session.ErrNotFound
	}
	return snap, nil
}

func (h *SessionHandler) options(id, userID string, extra ...submission.Option) []submission.Option {
	opts := append(extra, submission.WithObserver(func(from, to submission.State) {
		metrics.RecordSessionTransition(string(from), string(to))
		logger.WithFields(logrus.Fields{
			"session_id": id,
			"from":       from,
			"to":         to,
		}).Debug("session transition")
	}))
	if h.publisher != nil {
		opts = append(opts, submission.WithPublisher(h.publisher))
	}
	return opts
}

func (h *SessionHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Kind: "bad_request", Error: "Request body too large"})
			return false
		}
		logger.Log.WithError(err).Debug("failed to decode request")
		badRequest(w, "Invalid request body")
		return false
	}
	return true
}

func (h *SessionHandler) log(r *http.Request, id string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"session_id": id,
		"user_id":    callerID(r),
	})
}

func view(id string, c *submission.Controller) sessionResponse {
	return sessionResponse{SessionID: id, View: submission.Render(c.Status())}
}
