// Package pipelineerr defines the error-kind taxonomy from spec §7, as
// sentinel-wrapped values so callers can classify an error with
// errors.Is instead of string-matching it.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind is one of the six error kinds spec §7 distinguishes.
type Kind string

const (
	// KindTransientUpstream covers HTTP 5xx, timeouts, connection
	// refused: the stage marks a typed error code and the next pass retries.
	KindTransientUpstream Kind = "transient_upstream"
	// KindExpectedClient covers HTTP 400/413/422 from validators: the
	// status is persisted and the document is treated as processed-with-error.
	KindExpectedClient Kind = "expected_client"
	// KindSemanticSkip covers schema-invalid-within-safety-window and
	// black-flagged publishers: skip without state change.
	KindSemanticSkip Kind = "semantic_skip"
	// KindSourceCorrupt covers missing OS blobs, unparseable XML, and
	// undetectable charsets: rewind to the earliest untrustworthy stage.
	KindSourceCorrupt Kind = "source_corrupt"
	// KindIntegrityViolation covers DB errors: rollback, log, let the
	// supervisor restart the worker loop.
	KindIntegrityViolation Kind = "integrity_violation"
	// KindHardStop covers schema version mismatch, mismatched BDS
	// indices, and failed size-safety checks: abort the pass.
	KindHardStop Kind = "hard_stop"
)

// Error wraps an underlying error with a Kind and optional document
// context, the taxonomy spec §7 names.
type Error struct {
	Kind       Kind
	DocumentID string
	Err        error
}

func (e *Error) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Kind, e.DocumentID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// WithDocument attaches a document id to a classified error.
func WithDocument(kind Kind, documentID string, err error) *Error {
	return &Error{Kind: kind, DocumentID: documentID, Err: err}
}

// Is reports whether err is (or wraps) a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// ClassifyHTTPStatus maps an upstream HTTP status code to a Kind, the
// policy spec §7 describes for validator responses: 2xx is not an
// error, 400/413/422 are "expected", 5xx is transient, and any other
// status (other 4xx included) is treated as transient so the pass
// retries rather than wedging.
func ClassifyHTTPStatus(status int) Kind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == 400 || status == 413 || status == 422:
		return KindExpectedClient
	case status >= 500:
		return KindTransientUpstream
	default:
		return KindTransientUpstream
	}
}
