package facts

import (
	"errors"
	"fmt"
)

// ErrCurationNotImplemented is returned by RunCuration. No promotion or
// demotion policy has been specified for curation yet.
var ErrCurationNotImplemented = errors.New("fact curation is not implemented")

// ValidationError is returned when a mutation payload or a decoded document
// violates a documented constraint. No document change is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// CorruptDocumentError is returned by Decode when stored bytes do not hold a
// valid document. It describes the store, not the caller's request.
type CorruptDocumentError struct {
	Err error
}

func (e CorruptDocumentError) Error() string {
	return "corrupt facts document: " + e.Err.Error()
}

func (e CorruptDocumentError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned when a mutation targets an unknown fact id.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "fact not found"
	}
	return "fact not found: " + e.ID
}

// BudgetExceededError is returned when a mutation would grow the document past
// its token ceiling.
type BudgetExceededError struct {
	Ceiling int
	Total   int
}

func (e BudgetExceededError) Error() string {
	return fmt.Sprintf("fact token budget exceeded: %d tokens > ceiling %d", e.Total, e.Ceiling)
}
