// Package upload validates report documents and hands them to the report API,
// turning the extraction outcome into the notice shown on the confirmation
// screen.
package upload

import (
	"context"
	"net/url"

	"github.com/carescore/platform/pkg/common/logger"
	"github.com/carescore/platform/pkg/common/models"
	"github.com/carescore/platform/pkg/reportapi"
	"github.com/sirupsen/logrus"
)

// ManualEntryNotice is shown when the upload succeeded but AI extraction was
// skipped.
const ManualEntryNotice = "AI auto-fill unavailable. Please enter values manually."

type Uploader interface {
	Upload(ctx context.Context, userID string, file reportapi.UploadFile) (*models.UploadResponse, error)
}

type Result struct {
	ReportID string `json:"report_id"`
	AIStatus string `json:"ai_status,omitempty"`
	Notice   string `json:"notice,omitempty"`
	Next     string `json:"next"`
}

type Service struct {
	validator *Validator
	uploader  Uploader
}

func NewService(validator *Validator, uploader Uploader) *Service {
	return &Service{validator: validator, uploader: uploader}
}

// MaxBytes is the size limit applied to documents.
func (s *Service) MaxBytes() int64 {
	return s.validator.MaxBytes()
}

// Process validates and uploads one document. A missing content type is
// detected from the name and contents.
func (s *Service) Process(ctx context.Context, userID string, file reportapi.UploadFile) (*Result, error) {
	if file.ContentType == "" {
		file.ContentType = DetectContentType(file.Name, file.Data)
	}
	if err := s.validator.Validate(file.ContentType, int64(len(file.Data))); err != nil {
		return nil, err
	}

	resp, err := s.uploader.Upload(ctx, userID, file)
	if err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"file":    file.Name,
		}).Warn("report upload failed")
		return nil, err
	}

	res := &Result{
		ReportID: resp.ReportID,
		AIStatus: resp.AIStatus,
		Notice:   NoticeFor(resp.AIStatus),
		Next:     "/confirm?id=" + url.QueryEscape(resp.ReportID),
	}
	logger.Log.WithFields(logrus.Fields{
		"user_id":   userID,
		"report_id": res.ReportID,
		"ai_status": res.AIStatus,
		"bytes":     len(file.Data),
	}).Info("report uploaded")
	return res, nil
}

// NoticeFor maps the extraction status of an upload to the confirmation notice.
func NoticeFor(aiStatus string) string {
	if aiStatus == models.AIStatusQuotaExhausted {
		return ManualEntryNotice
	}
	return ""
}
