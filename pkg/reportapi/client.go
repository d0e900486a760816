// Package reportapi is the client of the remote report API: report history,
// uploads, and the analysis trigger.
package reportapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/carescore/platform/pkg/common/apperrors"
	"github.com/carescore/platform/pkg/common/httpclient"
	"github.com/carescore/platform/pkg/common/logger"
	"github.com/carescore/platform/pkg/common/models"
	"golang.org/x/oauth2"
)

const maxResponseBytes = 10 << 20

// User-facing messages attached to classified errors.
const (
	MsgLoadFailed       = "Failed to load report data."
	MsgConnection       = "Server connection error."
	MsgAnalysisFailed   = "Analysis failed."
	MsgAnalysisNetwork  = "Server error during analysis."
	MsgUploadFailed     = "Upload failed. Please try again."
	MsgUploadNetwork    = "Server error. Is the backend running?"
	MsgHistoryFailed    = "Failed to load history."
	MsgQuotaManualEntry = "AI auto-fill unavailable. Please enter values manually."
	MsgQuotaTryLater    = "AI analysis is unavailable right now. Please try again later."
)

type Client struct {
	baseURL  string
	http     *http.Client
	attempts int
}

type Option func(*options)

type options struct {
	tokenSource oauth2.TokenSource
	attempts    int
	httpClient  *http.Client
}

// WithToken authenticates every request with a static bearer token issued by
// the identity provider.
func WithToken(token string) Option {
	return func(o *options) {
		if token != "" {
			o.tokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		}
	}
}

func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(o *options) { o.tokenSource = ts }
}

// WithAttempts enables retries of idempotent reads on transient network errors.
func WithAttempts(n int) Option {
	return func(o *options) { o.attempts = n }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	o := options{attempts: 1}
	for _, opt := range opts {
		opt(&o)
	}

	hc := o.httpClient
	if hc == nil {
		hc = httpclient.New(timeout)
	}
	if o.tokenSource != nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		authed := oauth2.NewClient(ctx, o.tokenSource)
		authed.Timeout = hc.Timeout
		hc = authed
	}

	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		http:     hc,
		attempts: o.attempts,
	}
}

// FetchReport loads one report with its raw extraction. A nil report with a
// nil error means the API answered successfully without report data.
func (c *Client) FetchReport(ctx context.Context, reportID string) (*models.Report, error) {
	endpoint := fmt.Sprintf("%s/history/%s", c.baseURL, url.PathEscape(reportID))

	var env models.ReportEnvelope
	err := httpclient.Retry(ctx, c.attempts, 200*time.Millisecond, func() error {
		env = models.ReportEnvelope{}
		_, err := c.do(ctx, http.MethodGet, endpoint, nil, "", &env, MsgConnection)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, classify(env.Error, MsgLoadFailed, MsgQuotaManualEntry)
	}
	return env.Data, nil
}

// Analyze submits confirmed data and triggers the analysis of the report.
func (c *Client) Analyze(ctx context.Context, sub models.ConfirmedSubmission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}

	var env models.AnalyzeEnvelope
	if _, err := c.do(ctx, http.MethodPost, c.baseURL+"/analysis/analyze", bytes.NewReader(body), "application/json", &env, MsgAnalysisNetwork); err != nil {
		return err
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return classify(msg, MsgAnalysisFailed, MsgQuotaTryLater)
	}
	return nil
}

// UploadFile is a report document to upload.
type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Upload sends a report document; the response carries the new report id and
// whether AI extraction ran.
func (c *Client) Upload(ctx context.Context, userID string, file UploadFile) (*models.UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(file.Name)))
	header.Set("Content-Type", file.ContentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := mw.WriteField("user_id", userID); err != nil {
		return nil, fmt.Errorf("failed to write user_id: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	var resp models.UploadResponse
	status, err := c.do(ctx, http.MethodPost, c.baseURL+"/report/upload", &buf, mw.FormDataContentType(), &resp, MsgUploadNetwork)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		msg := resp.Error
		if msg == "" {
			msg = MsgUploadFailed
		}
		return nil, apperrors.New(apperrors.KindBackendRejected, msg)
	}
	if resp.ReportID == "" {
		return nil, apperrors.New(apperrors.KindBackendRejected, "upload response did not include a report id")
	}
	return &resp, nil
}

// ListHistory returns every report of a user.
func (c *Client) ListHistory(ctx context.Context, userID string) ([]models.Report, error) {
	endpoint := fmt.Sprintf("%s/history/list?user_id=%s", c.baseURL, url.QueryEscape(userID))

	var env models.ReportListEnvelope
	err := httpclient.Retry(ctx, c.attempts, 200*time.Millisecond, func() error {
		env = models.ReportListEnvelope{}
		_, err := c.do(ctx, http.MethodGet, endpoint, nil, "", &env, MsgConnection)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = MsgHistoryFailed
		}
		return nil, apperrors.New(apperrors.KindBackendRejected, msg)
	}
	return env.Data, nil
}

// PDFURL is the download location of the generated report PDF.
func (c *Client) PDFURL(reportID string) string {
	return fmt.Sprintf("%s/download/pdf/%s", c.baseURL, url.PathEscape(reportID))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out interface{}, networkMsg string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	reqID := httpclient.RequestID(ctx)
	req.Header.Set(httpclient.RequestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"method":     method,
			"url":        endpoint,
			"request_id": reqID,
		}).Warn("report api request failed")
		return 0, apperrors.Wrap(apperrors.KindNetwork, networkMsg, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, apperrors.Wrap(apperrors.KindNetwork, networkMsg, err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"method":      method,
		"url":         endpoint,
		"status":      resp.StatusCode,
		"request_id":  reqID,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("report api request")

	if len(bytes.TrimSpace(payload)) == 0 {
		if resp.StatusCode >= 400 {
			return resp.StatusCode, apperrors.New(apperrors.KindBackendRejected, fmt.Sprintf("report api returned %s", resp.Status))
		}
		return resp.StatusCode, apperrors.New(apperrors.KindBackendRejected, "report api returned an empty response")
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return resp.StatusCode, apperrors.Wrap(apperrors.KindBackendRejected, fmt.Sprintf("unreadable response (%s)", resp.Status), err)
	}
	return resp.StatusCode, nil
}

// classify maps an application-level failure to the error taxonomy. The quota
// marker gets its own kind with a message that does not suggest retrying.
func classify(msg, fallback, quotaMsg string) error {
	if strings.EqualFold(strings.TrimSpace(msg), models.ErrorQuotaExhausted) {
		return apperrors.New(apperrors.KindQuotaExhausted, quotaMsg)
	}
	if strings.TrimSpace(msg) == "" {
		msg = fallback
	}
	return apperrors.New(apperrors.KindBackendRejected, msg)
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
