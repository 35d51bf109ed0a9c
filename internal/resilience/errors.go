package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Kind is the error class used for propagation decisions.
type Kind string

const (
	KindConfiguration       Kind = "configuration"
	KindTransient           Kind = "transient"
	KindPermanent           Kind = "permanent"
	KindExtractionQuality   Kind = "extraction_quality"
	KindValidationWarning   Kind = "validation_warning"
	KindValidationRejection Kind = "validation_rejection"
	KindCancelled           Kind = "cancelled"
)

// TransientError wraps an error that is safe to retry (429, 5xx, timeouts).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError marks a failure that retrying cannot fix (auth, 4xx).
// It aborts the affected PDF only.
type PermanentError struct {
	Err        error
	StatusCode int
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as permanent.
func NewPermanentError(err error, statusCode int) *PermanentError {
	return &PermanentError{Err: err, StatusCode: statusCode}
}

// ConfigError is fatal at startup: invalid catalogue or missing knobs.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err as a configuration error.
func NewConfigError(err error) *ConfigError {
	return &ConfigError{Err: err}
}

// QualityError reports unusable model output or an empty selection. The PDF
// ends with an empty lineage row and no data.
type QualityError struct {
	Err error
}

func (e *QualityError) Error() string { return e.Err.Error() }
func (e *QualityError) Unwrap() error { return e.Err }

// NewQualityError wraps err as an extraction quality error.
func NewQualityError(err error) *QualityError {
	return &QualityError{Err: err}
}

// FromHTTPStatus wraps err according to the provider status code: 408, 429
// and 5xx are transient, any other 4xx is permanent. Other codes return err
// unchanged.
func FromHTTPStatus(err error, statusCode int) error {
	if err == nil {
		return nil
	}
	if IsTransientHTTPStatus(statusCode) {
		return NewTransientError(err, statusCode)
	}
	if statusCode >= 400 && statusCode < 500 {
		return NewPermanentError(err, statusCode)
	}
	return err
}

// Classify maps err onto the taxonomy. Unknown errors are permanent.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return KindConfiguration
	}
	var qe *QualityError
	if errors.As(err, &qe) {
		return KindExtractionQuality
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return KindPermanent
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if IsTransient(err) {
		return KindTransient
	}
	return KindPermanent
}

// IsTransient reports whether err (or anything it wraps) is worth retrying.
// PermanentError always wins over the string heuristics.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// A single call hitting its own timeout is retryable.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
	"overloaded",
}

// IsTransientHTTPStatus reports whether statusCode is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}
