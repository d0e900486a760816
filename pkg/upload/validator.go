package upload

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/carescore/platform/pkg/common/apperrors"
)

// DefaultMaxBytes is the largest document the report API accepts.
const DefaultMaxBytes = 16 * 1024 * 1024

// MsgTooLarge is shown when a document exceeds the size limit.
const MsgTooLarge = "File is too large. Max size is 16MB."

const (
	msgInvalidType = "Invalid file type. Please upload a PDF or Image."
	msgEmpty       = "File is empty."
)

var defaultTypes = []string{"application/pdf", "image/png", "image/jpeg", "image/jpg"}

type Validator struct {
	allowedTypes map[string]struct{}
	maxBytes     int64
}

// NewValidator builds a validator for the given content types; nil types
// selects the PDF and image defaults, a non-positive limit selects
// DefaultMaxBytes.
func NewValidator(types []string, maxBytes int64) *Validator {
	if types == nil {
		types = defaultTypes
	}
	allowed := make(map[string]struct{})
	for _, t := range types {
		if trimmed := strings.TrimSpace(strings.ToLower(t)); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Validator{allowedTypes: allowed, maxBytes: maxBytes}
}

// Validate checks a document before it is sent. The returned error is an
// *apperrors.Error of kind InvalidUpload carrying the user-facing message.
func (v *Validator) Validate(contentType string, size int64) error {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	if _, ok := v.allowedTypes[mediaType]; !ok {
		return apperrors.Wrap(apperrors.KindInvalidUpload, msgInvalidType, fmt.Errorf("content type %q not allowed", contentType))
	}
	if size <= 0 {
		return apperrors.New(apperrors.KindInvalidUpload, msgEmpty)
	}
	if size > v.maxBytes {
		return apperrors.Wrap(apperrors.KindInvalidUpload, MsgTooLarge, fmt.Errorf("%d bytes exceeds limit of %d", size, v.maxBytes))
	}
	return nil
}

func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// DetectContentType picks the content type of a document from its name, then
// from its leading bytes.
func DetectContentType(name string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		if parsed, _, err := mime.ParseMediaType(byExt); err == nil {
			return parsed
		}
	}
	sniffed := http.DetectContentType(data)
	if parsed, _, err := mime.ParseMediaType(sniffed); err == nil {
		return parsed
	}
	return sniffed
}
