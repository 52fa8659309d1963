// Package errors provides the structured error system for coldpack with a
// closed set of error codes, categories, and retryability metadata.
//
// Every failure surfaced by the packaging engine carries one of the codes
// below. Retry decisions are made exclusively by inspecting the code's
// Retryable flag, never by matching message text.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies one failure kind in the packaging pipeline.
type ErrorCode string

const (
	// Input validation errors. All permanent: retrying cannot make an
	// empty or oversized source file valid.
	ErrCodeInputMissing      ErrorCode = "INPUT_MISSING"
	ErrCodeInputEmpty        ErrorCode = "INPUT_EMPTY"
	ErrCodeInputTooLarge     ErrorCode = "INPUT_TOO_LARGE"
	ErrCodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Archive format errors. Permanent: the bytes on disk are what they are.
	ErrCodeFormatInvalid      ErrorCode = "FORMAT_INVALID"
	ErrCodeManifestInvalid    ErrorCode = "MANIFEST_INVALID"
	ErrCodeVersionUnsupported ErrorCode = "VERSION_UNSUPPORTED"

	// Payload errors detected during restore.
	ErrCodePayloadDecode     ErrorCode = "PAYLOAD_DECODE"
	ErrCodeIntegrityMismatch ErrorCode = "INTEGRITY_MISMATCH"

	// Dictionary errors.
	ErrCodeDictionaryMissing  ErrorCode = "DICTIONARY_MISSING"
	ErrCodeDictionaryTraining ErrorCode = "DICTIONARY_TRAINING"

	// Transient I/O errors. The only retryable family.
	ErrCodeIORead   ErrorCode = "IO_READ"
	ErrCodeIOWrite  ErrorCode = "IO_WRITE"
	ErrCodeIOCommit ErrorCode = "IO_COMMIT"

	// Storage backend errors (remote archive store).
	ErrCodeStorageWrite    ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageRead     ErrorCode = "STORAGE_READ"
	ErrCodeArchiveNotFound ErrorCode = "ARCHIVE_NOT_FOUND"

	// Orchestration errors raised by the batch layer itself, never for a
	// single job's failure.
	ErrCodeDirectoryMissing ErrorCode = "DIRECTORY_MISSING"
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"

	// Internal catch-all.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups codes for reporting and metrics labels.
type ErrorCategory string

const (
	CategoryInput         ErrorCategory = "input"
	CategoryFormat        ErrorCategory = "format"
	CategoryIntegrity     ErrorCategory = "integrity"
	CategoryDictionary    ErrorCategory = "dictionary"
	CategoryIO            ErrorCategory = "io"
	CategoryStorage       ErrorCategory = "storage"
	CategoryOrchestration ErrorCategory = "orchestration"
	CategoryInternal      ErrorCategory = "internal"
)

// PackError is the structured error carried through the packaging pipeline.
type PackError struct {
	Code     ErrorCode         `json:"code"`
	Category ErrorCategory     `json:"category"`
	Message  string            `json:"message"`
	Context  map[string]string `json:"context,omitempty"`

	Cause     error     `json:"-"` // not serialized to avoid circular refs
	Timestamp time.Time `json:"timestamp"`

	// Retryable marks failures the retry policy may attempt again.
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *PackError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *PackError) Unwrap() error {
	return e.Cause
}

// Is matches two PackErrors by code so callers can compare against a
// template error built with New.
func (e *PackError) Is(target error) bool {
	if packErr, ok := target.(*PackError); ok {
		return e.Code == packErr.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *PackError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	for k, v := range e.Context {
		parts = append(parts, fmt.Sprintf("%s=%q", k, v))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("PackError{%s}", strings.Join(parts, ", "))
}

// New creates a PackError with category and retryability derived from the
// code.
func New(code ErrorCode, message string) *PackError {
	return &PackError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(code ErrorCode, format string, args ...interface{}) *PackError {
	return New(code, fmt.Sprintf(format, args...))
}

// WithCause attaches the underlying error.
func (e *PackError) WithCause(cause error) *PackError {
	e.Cause = cause
	return e
}

// WithContext adds a contextual key/value pair, typically the file path the
// operation was working on.
func (e *PackError) WithContext(key, value string) *PackError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// GetCategory determines the category for an error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInputMissing, ErrCodeInputEmpty, ErrCodeInputTooLarge, ErrCodeUnsupportedFormat:
		return CategoryInput
	case ErrCodeFormatInvalid, ErrCodeManifestInvalid, ErrCodeVersionUnsupported:
		return CategoryFormat
	case ErrCodePayloadDecode, ErrCodeIntegrityMismatch:
		return CategoryIntegrity
	case ErrCodeDictionaryMissing, ErrCodeDictionaryTraining:
		return CategoryDictionary
	case ErrCodeIORead, ErrCodeIOWrite, ErrCodeIOCommit:
		return CategoryIO
	case ErrCodeStorageWrite, ErrCodeStorageRead, ErrCodeArchiveNotFound:
		return CategoryStorage
	case ErrCodeDirectoryMissing, ErrCodeInvalidConfig:
		return CategoryOrchestration
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether a code represents a transient
// condition worth retrying. The set is closed: only raw I/O hiccups and
// remote storage faults qualify. Input, format, integrity, and dictionary
// failures will never succeed on retry.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeIORead, ErrCodeIOWrite, ErrCodeIOCommit,
		ErrCodeStorageWrite, ErrCodeStorageRead:
		return true
	default:
		return false
	}
}

// CodeOf extracts the error code from any error in the chain, returning
// ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var packErr *PackError
	if stderrors.As(err, &packErr) {
		return packErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether an error should be retried. Foreign errors
// (anything that is not a PackError) are treated as non-retryable so an
// unclassified failure can never loop the retry policy.
func IsRetryable(err error) bool {
	var packErr *PackError
	if stderrors.As(err, &packErr) {
		return packErr.Retryable
	}
	return false
}

// IsPermanentInput reports whether an error is one of the permanent input
// validation failures.
func IsPermanentInput(err error) bool {
	return GetCategory(CodeOf(err)) == CategoryInput
}
