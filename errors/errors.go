package errors

import (
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an AppError. The set is closed: provider failures that do
// not map to a named kind become KindUpstream.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindInvalidReference
	KindUnauthorized
	KindTranscriptsDisabled
	KindNoTranscriptFound
	KindNoTranscriptAvailable
	KindVideoUnavailable
	KindUpstream
	KindStorage
	KindNotCached
)

var kindNames = map[Kind]string{
	KindInternal:              "internal",
	KindInvalidInput:          "invalid_input",
	KindInvalidReference:      "invalid_reference",
	KindUnauthorized:          "unauthorized",
	KindTranscriptsDisabled:   "transcripts_disabled",
	KindNoTranscriptFound:     "no_transcript_found",
	KindNoTranscriptAvailable: "no_transcript_available",
	KindVideoUnavailable:      "video_unavailable",
	KindUpstream:              "upstream_error",
	KindStorage:               "storage_error",
	KindNotCached:             "not_cached",
}

// String returns the wire code used in gateway error documents.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindInternal]
}

// ParseKind maps a wire code back to its Kind.
func ParseKind(code string) (Kind, bool) {
	for k, name := range kindNames {
		if name == code {
			return k, true
		}
	}
	return KindInternal, false
}

// Domain reports whether k is one of the provider's expected outcomes, as
// opposed to a transport or internal failure.
func (k Kind) Domain() bool {
	switch k {
	case KindTranscriptsDisabled, KindNoTranscriptFound, KindNoTranscriptAvailable, KindVideoUnavailable:
		return true
	}
	return false
}

type AppError struct {
	Kind    Kind   `json:"-"`
	Code    int    `json:"-"`
	Message string `json:"error"`
	Op      string `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newError(kind Kind, code int, op string, err error, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

func InvalidInput(op string, err error, message string) *AppError {
	return newError(KindInvalidInput, http.StatusBadRequest, op, err, message)
}

func InvalidReference(op string, input string) *AppError {
	return newError(KindInvalidReference, http.StatusBadRequest, op, nil,
		fmt.Sprintf("Could not extract video ID from: %s", input))
}

func Unauthorized(op string) *AppError {
	return newError(KindUnauthorized, http.StatusUnauthorized, op, nil, "Invalid token")
}

func TranscriptsDisabled(op string) *AppError {
	return newError(KindTranscriptsDisabled, http.StatusNotFound, op, nil,
		"Transcripts are disabled for this video")
}

func NoTranscriptFound(op string, language string) *AppError {
	return newError(KindNoTranscriptFound, http.StatusNotFound, op, nil,
		fmt.Sprintf("No transcript found for language: %s", language))
}

func NoTranscriptAvailable(op string) *AppError {
	return newError(KindNoTranscriptAvailable, http.StatusNotFound, op, nil,
		"No transcripts available for this video")
}

func VideoUnavailable(op string) *AppError {
	return newError(KindVideoUnavailable, http.StatusNotFound, op, nil, "Video unavailable")
}

func Upstream(op string, err error, message string) *AppError {
	return newError(KindUpstream, http.StatusInternalServerError, op, err, message)
}

func Storage(op string, err error, message string) *AppError {
	return newError(KindStorage, http.StatusInternalServerError, op, err, message)
}

func NotCached(op string, err error, message string) *AppError {
	return newError(KindNotCached, http.StatusNotFound, op, err, message)
}

func Internal(op string, err error, message string) *AppError {
	return newError(KindInternal, http.StatusInternalServerError, op, err, message)
}

// FromKind rebuilds a typed error from a wire code and message, as received
// from a remote gateway.
func FromKind(op string, kind Kind, message string) *AppError {
	code := http.StatusInternalServerError
	switch {
	case kind.Domain(), kind == KindNotCached:
		code = http.StatusNotFound
	case kind == KindInvalidReference, kind == KindInvalidInput:
		code = http.StatusBadRequest
	case kind == KindUnauthorized:
		code = http.StatusUnauthorized
	}
	return newError(kind, code, op, nil, message)
}

// KindOf returns the Kind of the first AppError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var appErr *AppError
	if pkgerrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// StatusCode returns the HTTP status for err.
func StatusCode(err error) int {
	var appErr *AppError
	if pkgerrors.As(err, &appErr) && appErr.Code != 0 {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// Message returns the caller-facing message for err.
func Message(err error) string {
	var appErr *AppError
	if pkgerrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
