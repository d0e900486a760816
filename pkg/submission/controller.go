// Package submission drives one confirmation session: loading the raw
// extraction, exposing the editable form, and submitting the confirmed data
// for analysis.
package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carescore/platform/pkg/common/apperrors"
	"github.com/carescore/platform/pkg/common/logger"
	"github.com/carescore/platform/pkg/common/models"
	"github.com/carescore/platform/pkg/confirmation"
	"github.com/carescore/platform/pkg/normalizer"
	"github.com/sirupsen/logrus"
)

type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateReady       State = "ready"
	StateLoadError   State = "load_error"
	StateSubmitting  State = "submitting"
	StateSubmitted   State = "submitted"
	StateSubmitError State = "submit_error"
)

// Store is the remote side of a session.
type Store interface {
	FetchReport(ctx context.Context, reportID string) (*models.Report, error)
	Analyze(ctx context.Context, sub models.ConfirmedSubmission) error
}

// Publisher announces accepted submissions to downstream consumers.
type Publisher interface {
	PublishConfirmed(ctx context.Context, userID string, sub models.ConfirmedSubmission) error
}

// Observer is notified of every state transition.
type Observer func(from, to State)

type Option func(*Controller)

func WithUserID(id string) Option {
	return func(c *Controller) { c.userID = id }
}

// WithNotice sets a message shown with the form until the first confirm, such
// as the manual-entry warning left by an upload.
func WithNotice(msg string) Option {
	return func(c *Controller) { c.notice = msg }
}

func WithPolicy(p confirmation.Policy) Option {
	return func(c *Controller) { c.policy = p }
}

func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observe = o }
}

// WithCheckpoint persists the session once it enters Submitting, before the
// analysis request goes out. A checkpoint failure aborts the submission.
func WithCheckpoint(fn func(Snapshot) error) Option {
	return func(c *Controller) { c.checkpoint = fn }
}

// WithSubmitTimeout bounds the analysis request. A restored Submitting session
// older than d is treated as abandoned.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Controller) { c.submitTimeout = d }
}

func WithNormalizer(n *normalizer.Normalizer) Option {
	return func(c *Controller) {
		if n != nil {
			c.norm = n
		}
	}
}

// Controller is the state machine of one session. It is safe for concurrent
// use; network calls run without holding the lock.
type Controller struct {
	mu        sync.Mutex
	state     State
	reportID  string
	userID    string
	store     Store
	norm      *normalizer.Normalizer
	form      *confirmation.Form
	policy    confirmation.Policy
	publisher Publisher
	observe   Observer

	checkpoint    func(Snapshot) error
	submitTimeout time.Duration
	submitStarted time.Time
	now           func() time.Time

	err        *apperrors.Error
	validation *apperrors.Error
	notice     string
}

func New(store Store, reportID string, opts ...Option) *Controller {
	c := &Controller{
		state:    StateIdle,
		reportID: reportID,
		store:    store,
		norm:     normalizer.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) ReportID() string {
	return c.reportID
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Load fetches the raw extraction and builds the form. It may be called from
// Idle, or from LoadError to retry.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateLoadError {
		c.mu.Unlock()
		return apperrors.New(apperrors.KindNotReady, "Report is already loaded.")
	}
	if c.reportID == "" {
		c.err = apperrors.New(apperrors.KindMissingReportID, "No report selected.")
		c.transition(StateLoadError)
		c.mu.Unlock()
		return c.err
	}
	c.err = nil
	c.transition(StateLoading)
	c.mu.Unlock()

	log := c.logEntry()
	log.Info("loading report data")

	report, err := c.store.FetchReport(ctx, c.reportID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.err = asAppError(err, apperrors.KindNetwork, "Server connection error.")
		c.transition(StateLoadError)
		log.WithError(err).WithField("kind", c.err.Kind).Warn("failed to load report data")
		return c.err
	}
	if report == nil {
		c.err = apperrors.New(apperrors.KindNoDataExtracted, "No data was extracted from this report.")
		c.transition(StateLoadError)
		log.Warn("report has no data")
		return c.err
	}

	var raw models.RawExtraction
	if report.RawData != nil {
		raw = *report.RawData
	}
	c.form = confirmation.NewForm(c.reportID, c.norm.Normalize(raw),
		confirmation.WithPolicy(c.policy),
		confirmation.WithIDs(c.norm.NewID),
	)
	c.transition(StateReady)
	log.WithField("rows", len(c.form.Rows())).Info("report data ready for review")
	return nil
}

// StartManualEntry opens an empty form after the extraction was refused for
// quota reasons, so the user can type the values in.
func (c *Controller) StartManualEntry() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateLoadError || c.err == nil || c.err.Kind != apperrors.KindQuotaExhausted {
		return apperrors.New(apperrors.KindNotReady, "Manual entry is only offered when AI auto-fill is unavailable.")
	}
	c.form = confirmation.NewForm(c.reportID, c.norm.Normalize(models.RawExtraction{}),
		confirmation.WithPolicy(c.policy),
		confirmation.WithIDs(c.norm.NewID),
	)
	c.notice = c.err.Message
	c.err = nil
	c.transition(StateReady)
	return nil
}

// Confirm validates the form and submits it. On success it returns the report
// id; navigating to the analysis is left to the caller.
func (c *Controller) Confirm(ctx context.Context) (string, error) {
	c.mu.Lock()
	switch c.state {
	case StateReady, StateSubmitError:
		if c.form == nil {
			c.mu.Unlock()
			return "", apperrors.New(apperrors.KindNotReady, "Report data is not ready for confirmation.")
		}
	case StateSubmitting:
		c.mu.Unlock()
		return "", apperrors.New(apperrors.KindInFlight, "Submission already in progress.")
	default:
		c.mu.Unlock()
		return "", apperrors.New(apperrors.KindNotReady, "Report data is not ready for confirmation.")
	}

	sub, err := c.form.ValidateAndSerialize()
	if err != nil {
		c.validation = asAppError(err, apperrors.KindFieldErrors, "")
		c.mu.Unlock()
		return "", c.validation
	}
	c.validation = nil
	c.notice = ""
	if len(sub.ConfirmedData.Tests) == 0 {
		c.err = apperrors.New(apperrors.KindEmptySubmission, "Please add at least one test result.")
		c.transition(StateSubmitError)
		c.mu.Unlock()
		return "", c.err
	}
	prev, prevErr := c.state, c.err
	c.err = nil
	c.submitStarted = c.now().UTC()
	c.transition(StateSubmitting)
	c.mu.Unlock()

	log := c.logEntry().WithField("tests", len(sub.ConfirmedData.Tests))
	if c.checkpoint != nil {
		if cerr := c.checkpoint(c.Snapshot()); cerr != nil {
			c.mu.Lock()
			c.err = prevErr
			c.submitStarted = time.Time{}
			c.transition(prev)
			c.mu.Unlock()
			log.WithError(cerr).Error("failed to record submission start")
			return "", fmt.Errorf("failed to record submission start: %w", cerr)
		}
	}
	log.Info("submitting confirmed data")

	analyzeCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.submitTimeout > 0 {
		analyzeCtx, cancel = context.WithTimeout(ctx, c.submitTimeout)
	}
	err = c.store.Analyze(analyzeCtx, sub)
	cancel()

	c.mu.Lock()
	c.submitStarted = time.Time{}
	if err != nil {
		c.err = asAppError(err, apperrors.KindNetwork, "Server error during analysis.")
		c.transition(StateSubmitError)
		c.mu.Unlock()
		log.WithError(err).WithField("kind", c.err.Kind).Warn("analysis request failed")
		return "", c.err
	}
	c.transition(StateSubmitted)
	c.mu.Unlock()

	log.Info("confirmed data accepted")
	if c.publisher != nil {
		if perr := c.publisher.PublishConfirmed(ctx, c.userID, sub); perr != nil {
			log.WithError(perr).Error("failed to publish confirmation event")
		}
	}
	return c.reportID, nil
}

// AddRow appends a blank row of the given kind.
func (c *Controller) AddRow(kind models.RowKind) (models.Row, error) {
	form, err := c.editableForm()
	if err != nil {
		return models.Row{}, err
	}
	return form.AddRow(kind), nil
}

func (c *Controller) RemoveRow(id string) error {
	form, err := c.editableForm()
	if err != nil {
		return err
	}
	form.RemoveRow(id)
	return nil
}

func (c *Controller) EditCell(id string, field confirmation.Field, value string) error {
	form, err := c.editableForm()
	if err != nil {
		return err
	}
	return form.EditCell(id, field, value)
}

// Status is a consistent copy of the session for rendering.
type Status struct {
	State      State            `json:"state"`
	ReportID   string           `json:"report_id"`
	Rows       []models.Row     `json:"rows"`
	Err        *apperrors.Error `json:"error,omitempty"`
	Validation *apperrors.Error `json:"validation,omitempty"`
	Notice     string           `json:"notice,omitempty"`
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:      c.state,
		ReportID:   c.reportID,
		Err:        c.err,
		Validation: c.validation,
		Notice:     c.notice,
	}
	if c.form != nil {
		st.Rows = c.form.Rows()
	}
	return st
}

func (c *Controller) editableForm() (*confirmation.Form, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.form == nil || (c.state != StateReady && c.state != StateSubmitError) {
		return nil, apperrors.New(apperrors.KindNotReady, "The form cannot be edited right now.")
	}
	return c.form, nil
}

// transition must be called with c.mu held.
func (c *Controller) transition(to State) {
	from := c.state
	c.state = to
	if c.observe != nil && from != to {
		c.observe(from, to)
	}
}

func (c *Controller) logEntry() *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"report_id": c.reportID,
		"user_id":   c.userID,
	})
}

func asAppError(err error, fallback apperrors.Kind, msg string) *apperrors.Error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.Wrap(fallback, msg, err)
}
