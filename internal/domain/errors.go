package domain

import "errors"

// Kind is the internal error taxonomy of spec.md §7. Each Kind's string
// value is itself the stable string reported to callers; the boundary
// adapter passes errors through without a separate mapping.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "authentication_failed"
	KindComplianceBlocked Kind = "compliance_blocked"
	KindPIIConsentRequired Kind = "pii_consent_required"
	KindKeyUnavailable    Kind = "key_unavailable"
	KindIntegrityFailure  Kind = "integrity_failure"
	KindIndexNotReady     Kind = "index_not_ready"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindOverloaded        Kind = "overloaded"
	KindDeadlineExceeded  Kind = "deadline_exceeded"
	KindRateLimited       Kind = "rate_limited"
	KindInternal          Kind = "internal_error"
)

// Error is the structured error every core package returns. It carries a
// stable Kind (whose string is what callers see), a human message,
// and an optional backend name (for KindBackendUnavailable) or wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Backend string
	Cause   error
}

func (e *Error) Error() string {
	if e.Backend != "" {
		return e.Kind.String() + " (" + e.Backend + "): " + e.Message
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// String renders a Kind as its stable taxonomy string.
func (k Kind) String() string { return string(k) }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithBackend attaches a backend name, for KindBackendUnavailable.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// KindOf extracts the Kind from err, defaulting to KindInternal for errors
// that did not originate as a *domain.Error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Is supports errors.Is(err, domain.New(KindNotFound, "")) style matching on
// Kind alone (message and cause are ignored).
func (e *Error) Is(target error) bool {
	var de *Error
	if !errors.As(target, &de) {
		return false
	}
	return e.Kind == de.Kind
}

var (
	ErrDuplicateID     = New(KindValidation, "duplicate item id")
	ErrSchemaMismatch  = New(KindValidation, "schema version mismatch")
	ErrVersionConflict = New(KindInternal, "optimistic version conflict")
)
