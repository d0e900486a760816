package reportapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carescore/platform/pkg/common/apperrors"
	"github.com/carescore/platform/pkg/common/logger"
	"github.com/carescore/platform/pkg/common/models"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitWithOutput(io.Discard)
}

func newTestServer(t *testing.T, register func(r *mux.Router)) *httptest.Server {
	t.Helper()
	router := mux.NewRouter()
	register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchReportSendsBearerAndDecodes(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/history/{id}", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
			assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
			assert.Equal(t, "rep-1", mux.Vars(r)["id"])
			w.Write([]byte(`{"success":true,"data":{"id":"rep-1","status":"pending_review","created_at":"2024-05-01T09:00:00","raw_data":{"hemoglobin":"13.5"}}}`))
		}).Methods(http.MethodGet)
	})

	client := New(srv.URL, time.Second, WithToken("secret-token"))
	report, err := client.FetchReport(context.Background(), "rep-1")
	require.NoError(t, err)
	require.NotNil(t, report)
	require.NotNil(t, report.RawData)
	assert.Equal(t, []models.Field{{Key: "hemoglobin", Value: "13.5"}}, report.RawData.Flat)
	assert.Equal(t, "5/1/2024", report.CreatedAt.DisplayDate())
}

func TestFetchReportQuotaExhausted(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/history/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":false,"error":"QUOTA_EXHAUSTED"}`))
		})
	})

	_, err := New(srv.URL, time.Second).FetchReport(context.Background(), "rep-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrQuotaExhausted))

	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, MsgQuotaManualEntry, appErr.Message)
}

func TestFetchReportBackendRejected(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/history/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success":false,"error":"Report not found"}`))
		})
	})

	_, err := New(srv.URL, time.Second).FetchReport(context.Background(), "missing")
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.KindBackendRejected, appErr.Kind)
	assert.Equal(t, "Report not found", appErr.Message)
}

func TestFetchReportNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).FetchReport(context.Background(), "rep-1")
	assert.True(t, errors.Is(err, apperrors.ErrNetwork))
}

func TestFetchReportMalformedBody(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/history/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>oops</html>`))
		})
	})

	_, err := New(srv.URL, time.Second).FetchReport(context.Background(), "rep-1")
	assert.True(t, errors.Is(err, apperrors.ErrBackendRejected))
}

func TestFetchReportRetriesOnlyWhenEnabled(t *testing.T) {
	calls := 0
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/history/{id}", func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Write([]byte(`{"success":false,"error":"QUOTA_EXHAUSTED"}`))
		})
	})

	_, err := New(srv.URL, time.Second, WithAttempts(3)).FetchReport(context.Background(), "rep-1")
	assert.True(t, errors.Is(err, apperrors.ErrQuotaExhausted))
	assert.Equal(t, 1, calls, "quota exhaustion must not be retried")
}

func TestAnalyzePostsSubmission(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/analysis/analyze", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "rep-1", body["report_id"])
			data := body["confirmed_data"].(map[string]interface{})
			tests := data["tests"].([]interface{})
			assert.Equal(t, 13.5, tests[0].(map[string]interface{})["value"])
			w.Write([]byte(`{"success":true}`))
		}).Methods(http.MethodPost)
	})

	sub := models.ConfirmedSubmission{
		ReportID: "rep-1",
		ConfirmedData: models.ConfirmedData{
			Lab:     map[string]string{},
			Patient: map[string]string{},
			Tests:   []models.TestResult{{TestName: "hemoglobin", Value: 13.5}},
		},
	}
	require.NoError(t, New(srv.URL, time.Second).Analyze(context.Background(), sub))
}

func TestAnalyzeFailures(t *testing.T) {
	cases := []struct {
		body string
		kind apperrors.Kind
		msg  string
	}{
		{`{"success":false,"error":"QUOTA_EXHAUSTED"}`, apperrors.KindQuotaExhausted, MsgQuotaTryLater},
		{`{"success":false,"message":"Model offline"}`, apperrors.KindBackendRejected, "Model offline"},
		{`{"success":false}`, apperrors.KindBackendRejected, MsgAnalysisFailed},
	}
	for _, tc := range cases {
		srv := newTestServer(t, func(r *mux.Router) {
			r.HandleFunc("/analysis/analyze", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			})
		})
		err := New(srv.URL, time.Second).Analyze(context.Background(), models.ConfirmedSubmission{ReportID: "r"})
		var appErr *apperrors.Error
		require.True(t, errors.As(err, &appErr), tc.body)
		assert.Equal(t, tc.kind, appErr.Kind, tc.body)
		assert.Equal(t, tc.msg, appErr.Message, tc.body)
	}
}

func TestUploadMultipart(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/report/upload", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "user-9", r.FormValue("user_id"))
			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			assert.Equal(t, "report.pdf", header.Filename)
			assert.Equal(t, "application/pdf", header.Header.Get("Content-Type"))
			data, _ := io.ReadAll(file)
			assert.Equal(t, "%PDF-1.4", string(data))
			w.Write([]byte(`{"report_id":"rep-7","ai_status":"quota_exhausted"}`))
		}).Methods(http.MethodPost)
	})

	resp, err := New(srv.URL, time.Second).Upload(context.Background(), "user-9", UploadFile{
		Name: "report.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, "rep-7", resp.ReportID)
	assert.Equal(t, models.AIStatusQuotaExhausted, resp.AIStatus)
}

func TestUploadRejected(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/report/upload", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"No file part"}`))
		})
	})

	_, err := New(srv.URL, time.Second).Upload(context.Background(), "u", UploadFile{Name: "a.png", ContentType: "image/png"})
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "No file part", appErr.Message)
}

func TestListHistory(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/history/list", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "user-1", r.URL.Query().Get("user_id"))
			w.Write([]byte(`{"success":true,"data":[{"id":"a","status":"analyzed","created_at":"2024-01-02T00:00:00Z","analysis_data":{"care_score":64,"deviations":["High LDL"]}}]}`))
		}).Methods(http.MethodGet)
	})

	reports, err := New(srv.URL, time.Second).ListHistory(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	score, ok := reports[0].CareScore()
	assert.True(t, ok)
	assert.Equal(t, 64.0, score)
}

func TestPDFURL(t *testing.T) {
	c := New("http://api.local/api/", time.Second)
	assert.Equal(t, "http://api.local/api/download/pdf/rep%201", c.PDFURL("rep 1"))
}
