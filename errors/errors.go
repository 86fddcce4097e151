package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/xeipuuv/gojsonschema"

	"github.com/clipstream/vod-api/log"
)

// Sentinel errors for the failure kinds the pipeline distinguishes. Callers
// wrap them with fmt.Errorf("...: %w", ...) and branch with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidFormat       = errors.New("unsupported video format")
	ErrInvalidChunkIndex   = errors.New("chunk index out of range")
	ErrInvalidChunkCount   = errors.New("chunk count mismatch")
	ErrForbidden           = errors.New("forbidden")
	ErrQuotaExceeded       = errors.New("storage quota exceeded")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrConflict            = errors.New("conflict")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrConcurrencyConflict = errors.New("concurrent metadata update")
)

func IsNotFound(err error) bool            { return errors.Is(err, ErrNotFound) }
func IsForbidden(err error) bool           { return errors.Is(err, ErrForbidden) }
func IsStorageUnavailable(err error) bool  { return errors.Is(err, ErrStorageUnavailable) }
func IsUpstreamTimeout(err error) bool     { return errors.Is(err, ErrUpstreamTimeout) }
func IsConcurrencyConflict(err error) bool { return errors.Is(err, ErrConcurrencyConflict) }

// ToolchainError is raised when an external media tool (ffprobe, ffmpeg)
// exits non-zero. Stderr is preserved for operators; it is never sent to
// end users.
type ToolchainError struct {
	Stage  string
	Stderr string
	Err    error
}

func (e *ToolchainError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Stage, e.Err, e.Stderr)
}

func (e *ToolchainError) Unwrap() error { return e.Err }

func NewProbeError(err error, stderr string) error {
	return &ToolchainError{Stage: "probe", Stderr: stderr, Err: err}
}

func NewTranscodeError(err error, stderr string) error {
	return &ToolchainError{Stage: "transcode", Stderr: stderr, Err: err}
}

func IsProbeFailed(err error) bool     { return isToolchainStage(err, "probe") }
func IsTranscodeFailed(err error) bool { return isToolchainStage(err, "transcode") }

func isToolchainStage(err error, stage string) bool {
	var te *ToolchainError
	return errors.As(err, &te) && te.Stage == stage
}

// Unretriable marks an error as permanent so that backoff.Retry gives up
// immediately.
func Unretriable(err error) error {
	return backoff.Permanent(err)
}

func IsUnretriable(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrInvalidFormat) {
		return true
	}
	var te *ToolchainError
	if errors.As(err, &te) {
		return true
	}
	var permErr *backoff.PermanentError
	return errors.As(err, &permErr)
}

type apiError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) apiError {
	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoVideoID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}

	return apiError{msg, status, err}
}

// HTTP Errors
func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusUnauthorized, err)
}

func WriteHTTPForbidden(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusForbidden, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPUnsupportedMediaType(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusUnsupportedMediaType, err)
}

func WriteHTTPPayloadTooLarge(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusRequestEntityTooLarge, err)
}

func WriteHTTPServiceUnavailable(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusServiceUnavailable, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

func WriteHTTPBadBodySchema(where string, w http.ResponseWriter, errors []gojsonschema.ResultError) apiError {
	sb := strings.Builder{}
	sb.WriteString("Body validation error in ")
	sb.WriteString(where)
	sb.WriteString(" ")
	for i := 0; i < len(errors); i++ {
		sb.WriteString(errors[i].String())
		sb.WriteString(" ")
	}
	return writeHttpError(w, sb.String(), http.StatusBadRequest, nil)
}

// WriteHTTPForError picks the response status from the error kind. Messages
// passed through here are already safe for end users; stderr and internal
// identifiers stay in the error detail on the server side only.
func WriteHTTPForError(w http.ResponseWriter, msg string, err error) apiError {
	switch {
	case errors.Is(err, ErrNotFound):
		return WriteHTTPNotFound(w, msg, err)
	case errors.Is(err, ErrForbidden):
		return WriteHTTPForbidden(w, msg, err)
	case errors.Is(err, ErrInvalidFormat):
		return WriteHTTPUnsupportedMediaType(w, msg, err)
	case errors.Is(err, ErrInvalidChunkIndex), errors.Is(err, ErrInvalidChunkCount), errors.Is(err, ErrConflict):
		return WriteHTTPBadRequest(w, msg, err)
	case errors.Is(err, ErrQuotaExceeded):
		return WriteHTTPPayloadTooLarge(w, msg, err)
	case errors.Is(err, ErrUpstreamTimeout):
		return writeHttpError(w, msg, http.StatusGatewayTimeout, err)
	default:
		return WriteHTTPInternalServerError(w, msg, err)
	}
}
