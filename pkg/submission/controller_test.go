package submission

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/carescore/platform/pkg/common/apperrors"
	"github.com/carescore/platform/pkg/common/logger"
	"github.com/carescore/platform/pkg/common/models"
	"github.com/carescore/platform/pkg/confirmation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitWithOutput(io.Discard)
}

type fakeStore struct {
	mu        sync.Mutex
	report    *models.Report
	fetchErr  error
	analyzeFn func(models.ConfirmedSubmission) error
	fetches   int
	submitted []models.ConfirmedSubmission
}

func (s *fakeStore) FetchReport(_ context.Context, reportID string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	return s.report, s.fetchErr
}

func (s *fakeStore) Analyze(_ context.Context, sub models.ConfirmedSubmission) error {
	s.mu.Lock()
	s.submitted = append(s.submitted, sub)
	fn := s.analyzeFn
	s.mu.Unlock()
	if fn != nil {
		return fn(sub)
	}
	return nil
}

type fakePublisher struct {
	userID string
	subs   []models.ConfirmedSubmission
	err    error
}

func (p *fakePublisher) PublishConfirmed(_ context.Context, userID string, sub models.ConfirmedSubmission) error {
	p.userID = userID
	p.subs = append(p.subs, sub)
	return p.err
}

func reportWith(t *testing.T, id, raw string) *models.Report {
	t.Helper()
	var extraction models.RawExtraction
	require.NoError(t, json.Unmarshal([]byte(raw), &extraction))
	return &models.Report{ID: id, Status: models.ReportStatusPendingReview, RawData: &extraction}
}

func TestLoadWithoutReportIDSkipsNetwork(t *testing.T) {
	store := &fakeStore{}
	c := New(store, "")

	err := c.Load(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrMissingReportID))
	assert.Equal(t, StateLoadError, c.State())
	assert.Zero(t, store.fetches)

	v := Render(c.Status())
	assert.False(t, v.CanRetry)
	assert.Empty(t, v.Rows)
}

func TestScenarioQuotaOnLoad(t *testing.T) {
	store := &fakeStore{fetchErr: apperrors.New(apperrors.KindQuotaExhausted, "AI auto-fill unavailable. Please enter values manually.")}
	c := New(store, "rep-4")

	err := c.Load(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrQuotaExhausted))
	assert.Equal(t, StateLoadError, c.State())

	v := Render(c.Status())
	assert.Empty(t, v.Rows)
	assert.False(t, v.ShowForm)
	assert.False(t, v.CanRetry)
	assert.True(t, v.CanEnterManually)
	assert.Contains(t, v.Message, "manually")
}

func TestManualEntryAfterQuota(t *testing.T) {
	store := &fakeStore{fetchErr: apperrors.New(apperrors.KindQuotaExhausted, "")}
	c := New(store, "rep-4")
	_ = c.Load(context.Background())

	require.NoError(t, c.StartManualEntry())
	assert.Equal(t, StateReady, c.State())

	st := c.Status()
	require.Len(t, st.Rows, 1)
	assert.Equal(t, models.RowTest, st.Rows[0].Kind)

	require.NoError(t, c.EditCell(st.Rows[0].ID, confirmation.FieldName, "Glucose"))
	require.NoError(t, c.EditCell(st.Rows[0].ID, confirmation.FieldValue, "92"))
	id, err := c.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rep-4", id)
}

func TestManualEntryRejectedForOtherErrors(t *testing.T) {
	c := New(&fakeStore{fetchErr: errors.New("dial tcp: refused")}, "rep-4")
	err := c.Load(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrNetwork))
	assert.True(t, errors.Is(c.StartManualEntry(), apperrors.ErrNotReady))
	assert.True(t, Render(c.Status()).CanRetry)
}

func TestLoadWithoutDataReportsNoDataExtracted(t *testing.T) {
	c := New(&fakeStore{}, "rep-5")
	err := c.Load(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrNoDataExtracted))
}

func TestLoadRetryAfterFailure(t *testing.T) {
	store := &fakeStore{fetchErr: apperrors.New(apperrors.KindBackendRejected, "Report not found")}
	c := New(store, "rep-6")
	require.Error(t, c.Load(context.Background()))
	assert.Equal(t, "Report not found", Render(c.Status()).Message)

	store.fetchErr = nil
	store.report = reportWith(t, "rep-6", `{"glucose":"92"}`)
	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 2, store.fetches)

	assert.True(t, errors.Is(c.Load(context.Background()), apperrors.ErrNotReady))
}

func TestConfirmBeforeReady(t *testing.T) {
	store := &fakeStore{}
	c := New(store, "rep-7")
	_, err := c.Confirm(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrNotReady))
	assert.Empty(t, store.submitted)
}

func TestScenarioPartialRowKeepsState(t *testing.T) {
	store := &fakeStore{report: reportWith(t, "rep-8", `{"tests":[{"test_name":"hemoglobin","value":"13.5"}]}`)}
	c := New(store, "rep-8")
	require.NoError(t, c.Load(context.Background()))

	row, err := c.AddRow(models.RowTest)
	require.NoError(t, err)
	require.NoError(t, c.EditCell(row.ID, confirmation.FieldName, "LDL"))

	_, err = c.Confirm(context.Background())
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.KindFieldErrors, appErr.Kind)
	assert.Equal(t, []string{row.ID}, appErr.RowIDs())
	assert.Equal(t, StateReady, c.State())
	assert.Empty(t, store.submitted, "invalid input must not reach the network")

	v := Render(c.Status())
	assert.Equal(t, []string{row.ID}, v.InvalidRows)
	assert.True(t, v.ConfirmEnabled)

	require.NoError(t, c.RemoveRow(row.ID))
	id, err := c.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rep-8", id)
	require.Len(t, store.submitted, 1)
	assert.Equal(t, "hemoglobin", store.submitted[0].ConfirmedData.Tests[0].TestName)
}

func TestSubmitSuccessPublishes(t *testing.T) {
	pub := &fakePublisher{}
	store := &fakeStore{report: reportWith(t, "rep-9", `{"glucose":"92"}`)}
	var transitions []State
	c := New(store, "rep-9",
		WithUserID("user-1"),
		WithPublisher(pub),
		WithObserver(func(_, to State) { transitions = append(transitions, to) }),
	)
	require.NoError(t, c.Load(context.Background()))

	id, err := c.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rep-9", id)
	assert.Equal(t, StateSubmitted, c.State())
	assert.Equal(t, "user-1", pub.userID)
	require.Len(t, pub.subs, 1)
	assert.Equal(t, []State{StateLoading, StateReady, StateSubmitting, StateSubmitted}, transitions)

	v := Render(c.Status())
	assert.Equal(t, "/analysis?id=rep-9", v.Next)

	_, err = c.Confirm(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrNotReady))
}

func TestPublishFailureDoesNotFailSubmission(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	c := New(&fakeStore{report: reportWith(t, "r", `{"glucose":"92"}`)}, "r", WithPublisher(pub))
	require.NoError(t, c.Load(context.Background()))
	_, err := c.Confirm(context.Background())
	assert.NoError(t, err)
}

func TestSubmitErrorsAllowRetry(t *testing.T) {
	calls := 0
	store := &fakeStore{
		report: reportWith(t, "rep-10", `{"glucose":"92"}`),
		analyzeFn: func(models.ConfirmedSubmission) error {
			calls++
			if calls == 1 {
				return apperrors.New(apperrors.KindQuotaExhausted, "AI analysis is unavailable right now. Please try again later.")
			}
			return nil
		},
	}
	c := New(store, "rep-10")
	require.NoError(t, c.Load(context.Background()))

	_, err := c.Confirm(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrQuotaExhausted))
	assert.Equal(t, StateSubmitError, c.State())
	v := Render(c.Status())
	assert.Equal(t, SeverityWarning, v.Severity)
	assert.Contains(t, v.Message, "try again later")

	_, err = c.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, c.State())
}

func TestForeignSubmitErrorIsNetwork(t *testing.T) {
	store := &fakeStore{
		report:    reportWith(t, "r", `{"glucose":"92"}`),
		analyzeFn: func(models.ConfirmedSubmission) error { return errors.New("connection reset") },
	}
	c := New(store, "r")
	require.NoError(t, c.Load(context.Background()))
	_, err := c.Confirm(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrNetwork))
	assert.Equal(t, "Server error during analysis.", Render(c.Status()).Message)
}

func TestSecondConfirmWhileSubmittingIsRejected(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	store := &fakeStore{
		report: reportWith(t, "rep-11", `{"glucose":"92"}`),
		analyzeFn: func(models.ConfirmedSubmission) error {
			close(entered)
			<-release
			return nil
		},
	}
	c := New(store, "rep-11")
	require.NoError(t, c.Load(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := c.Confirm(context.Background())
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("submission never started")
	}

	_, err := c.Confirm(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrInFlight))
	assert.True(t, errors.Is(c.EditCell("x", confirmation.FieldName, "y"), apperrors.ErrNotReady))
	assert.True(t, Render(c.Status()).ShowOverlay)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, store.submitted, 1)
}

func TestSnapshotRestore(t *testing.T) {
	store := &fakeStore{report: reportWith(t, "rep-12", `{"lab":{"name":"CityLab"},"tests":[{"test_name":"ldl","value":"120"}]}`)}
	c := New(store, "rep-12", WithUserID("user-2"), WithNotice("AI auto-fill unavailable. Please enter values manually."))
	require.NoError(t, c.Load(context.Background()))

	data, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	restored := Restore(store, snap)

	assert.Equal(t, StateReady, restored.State())
	assert.Equal(t, c.Status().Rows, restored.Status().Rows)
	assert.Equal(t, SeverityWarning, Render(restored.Status()).Severity)

	id, err := restored.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rep-12", id)
	assert.Equal(t, map[string]string{"name": "CityLab"}, store.submitted[0].ConfirmedData.Lab)
}

func TestRestoreInterruptedSubmission(t *testing.T) {
	rows := []models.Row{{ID: "a", Kind: models.RowTest, Name: "ldl", Value: "120"}}

	pending := Snapshot{ReportID: "r", State: StateSubmitting, HasForm: true, Rows: rows, SubmitStarted: time.Now()}
	c := Restore(&fakeStore{}, pending, WithSubmitTimeout(time.Minute))
	assert.Equal(t, StateSubmitting, c.State())
	assert.False(t, Render(c.Status()).ConfirmEnabled)
	_, err := c.Confirm(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrInFlight))

	stale := pending
	stale.SubmitStarted = time.Now().Add(-2 * time.Minute)
	c = Restore(&fakeStore{}, stale, WithSubmitTimeout(time.Minute))
	assert.Equal(t, StateSubmitError, c.State())
	assert.True(t, Render(c.Status()).CanRetry)

	unstamped := pending
	unstamped.SubmitStarted = time.Time{}
	c = Restore(&fakeStore{}, unstamped)
	assert.Equal(t, StateSubmitError, c.State())

	c = Restore(&fakeStore{}, Snapshot{ReportID: "r", State: StateReady})
	assert.Equal(t, StateIdle, c.State())
}

func TestCheckpointRecordsSubmittingBeforeAnalysis(t *testing.T) {
	var checkpoints []Snapshot
	store := &fakeStore{report: reportWith(t, "rep-13", `{"glucose":"92"}`)}
	store.analyzeFn = func(models.ConfirmedSubmission) error {
		require.Len(t, checkpoints, 1, "checkpoint must precede the analysis request")
		return nil
	}
	c := New(store, "rep-13", WithCheckpoint(func(snap Snapshot) error {
		checkpoints = append(checkpoints, snap)
		return nil
	}))
	require.NoError(t, c.Load(context.Background()))

	_, err := c.Confirm(context.Background())
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)
	assert.Equal(t, StateSubmitting, checkpoints[0].State)
	assert.False(t, checkpoints[0].SubmitStarted.IsZero())
	assert.True(t, c.Snapshot().SubmitStarted.IsZero())
}

func TestCheckpointFailureAbortsSubmission(t *testing.T) {
	store := &fakeStore{report: reportWith(t, "rep-14", `{"glucose":"92"}`)}
	c := New(store, "rep-14", WithCheckpoint(func(Snapshot) error {
		return errors.New("store unavailable")
	}))
	require.NoError(t, c.Load(context.Background()))

	_, err := c.Confirm(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateReady, c.State())
	assert.Empty(t, store.submitted)
}

func TestSubmitTimeoutBoundsAnalysis(t *testing.T) {
	store := &ctxStore{fakeStore: fakeStore{report: reportWith(t, "rep-15", `{"glucose":"92"}`)}}
	c := New(store, "rep-15", WithSubmitTimeout(20*time.Millisecond))
	require.NoError(t, c.Load(context.Background()))

	_, err := c.Confirm(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrNetwork))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, StateSubmitError, c.State())
}

// ctxStore blocks analysis until the request context ends.
type ctxStore struct {
	fakeStore
}

func (s *ctxStore) Analyze(ctx context.Context, _ models.ConfirmedSubmission) error {
	<-ctx.Done()
	return ctx.Err()
}
