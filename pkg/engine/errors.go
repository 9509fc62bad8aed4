// Package engine provides the memory consolidation engine: candidate fetch,
// relevance scoring, diversity reranking, compression, and the write-back
// paths around the memory store.
package engine

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidInput indicates a programming-contract violation by the
	// caller, e.g. an empty owner. These fail fast and loudly.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCollaboratorUnavailable indicates that an external call (embed,
	// extraction, summarization, store) failed or timed out. It is always
	// recovered locally; retrieval degrades instead of failing.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrMalformedCandidate indicates a stored memory with a missing or
	// invalid embedding. Such candidates are skipped, never raised.
	ErrMalformedCandidate = errors.New("malformed candidate")

	// ErrExtractionParse indicates the extraction service returned
	// unparseable output. Treated as zero facts.
	ErrExtractionParse = errors.New("extraction response unparseable")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")
)

// EngineError wraps errors with operation context.
//
// It provides additional context about which operation failed, making error
// messages more informative for debugging.
//
// Example:
//
//	err := &EngineError{
//	    Op:  "ClearUserMemories",
//	    Err: ErrStorageOperation,
//	}
//	// Error() returns: "recall: ClearUserMemories: storage operation failed"
type EngineError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "recall: <Op>: <Err>"
func (e *EngineError) Error() string {
	return fmt.Sprintf("recall: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with EngineError.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewEngineError("BuildContext", err)
//	}
//
// Parameters:
//   - op: Name of the operation (e.g., "BuildContext", "MaybeAutoDistill")
//   - err: The underlying error to wrap
//
// Returns an EngineError, or nil if err is nil.
func NewEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{
		Op:  op,
		Err: err,
	}
}
