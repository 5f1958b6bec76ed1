package memory

import (
	"context"
	"errors"

	"github.com/papercomputeco/mnemo/pkg/facts"
	"github.com/papercomputeco/mnemo/pkg/guard"
)

// ErrUnknownAction is returned for a mutation action the facade does not
// recognise.
var ErrUnknownAction = errors.New("unknown fact action")

// ErrorKind classifies a failed mutation for callers that cannot inspect Go
// error values, such as HTTP and MCP clients.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindNotFound       ErrorKind = "not_found"
	KindLockContention ErrorKind = "lock_contention"
	KindBudgetExceeded ErrorKind = "budget_exceeded"
	KindNotImplemented ErrorKind = "not_implemented"
	KindCanceled       ErrorKind = "canceled"
	KindInternal       ErrorKind = "internal"
)

// Retryable reports whether repeating the whole operation may succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindLockContention
}

// Classify maps an error from the fact write path to its kind.
func Classify(err error) ErrorKind {
	var (
		validation facts.ValidationError
		notFound   facts.NotFoundError
		budget     facts.BudgetExceededError
		corrupt    facts.CorruptDocumentError
		contention guard.LockContentionError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &corrupt):
		return KindInternal
	case errors.As(err, &validation), errors.Is(err, ErrUnknownAction):
		return KindValidation
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &contention):
		return KindLockContention
	case errors.As(err, &budget):
		return KindBudgetExceeded
	case errors.Is(err, facts.ErrCurationNotImplemented):
		return KindNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
