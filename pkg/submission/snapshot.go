package submission

import (
	"time"

	"github.com/carescore/platform/pkg/common/apperrors"
	"github.com/carescore/platform/pkg/common/models"
	"github.com/carescore/platform/pkg/confirmation"
)

// Snapshot is the persisted form of a session between requests.
type Snapshot struct {
	ReportID   string              `json:"report_id"`
	UserID     string              `json:"user_id,omitempty"`
	State      State               `json:"state"`
	Rows       []models.Row        `json:"rows,omitempty"`
	HasForm    bool                `json:"has_form"`
	Err        *apperrors.Error    `json:"error,omitempty"`
	Validation *apperrors.Error    `json:"validation,omitempty"`
	Notice     string              `json:"notice,omitempty"`
	Policy     confirmation.Policy `json:"policy"`
	// SubmitStarted is set while State is Submitting.
	SubmitStarted time.Time `json:"submit_started,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ReportID:   c.reportID,
		UserID:     c.userID,
		State:      c.state,
		Err:        c.err,
		Validation: c.validation,
		Notice:     c.notice,
		Policy:     c.policy,
	}
	if c.state == StateSubmitting {
		snap.SubmitStarted = c.submitStarted
	}
	if c.form != nil {
		snap.HasForm = true
		snap.Rows = c.form.Rows()
	}
	return snap
}

// Restore rebuilds a controller from a snapshot. A pending load resumes from
// Idle. A pending submission stays Submitting until the submit timeout has
// passed since it started; after that its outcome is unknown and the session
// moves to SubmitError so the user can confirm again.
func Restore(store Store, snap Snapshot, opts ...Option) *Controller {
	c := New(store, snap.ReportID, append([]Option{WithUserID(snap.UserID), WithPolicy(snap.Policy)}, opts...)...)
	c.state = snap.State
	c.err = snap.Err
	c.validation = snap.Validation
	c.notice = snap.Notice

	if snap.HasForm {
		c.form = confirmation.NewForm(snap.ReportID, snap.Rows,
			confirmation.WithPolicy(c.policy),
			confirmation.WithIDs(c.norm.NewID),
		)
	}

	switch c.state {
	case StateLoading:
		c.state = StateIdle
	case StateSubmitting:
		c.submitStarted = snap.SubmitStarted
		if c.submitAbandoned() {
			c.submitStarted = time.Time{}
			c.err = apperrors.New(apperrors.KindNetwork, "The previous submission did not complete. Please confirm again.")
			c.state = StateSubmitError
		}
	}
	if c.state == "" || (c.form == nil && c.state != StateLoadError && c.state != StateSubmitted) {
		c.state = StateIdle
	}
	return c
}

// submitAbandoned reports whether a restored submission can no longer be in flight.
func (c *Controller) submitAbandoned() bool {
	if c.submitStarted.IsZero() {
		return true
	}
	return c.submitTimeout > 0 && c.now().Sub(c.submitStarted) >= c.submitTimeout
}
