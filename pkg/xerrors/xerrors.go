// Package xerrors defines the abort/failure kinds a transaction can surface.
//
// TryCommit never returns an error value (callers only ever see a bool); the
// kind below is what a transaction records internally so tests and operators
// can ask "why did that abort" after the fact. Fatal/Unreachable conditions
// are never returned at all - they panic, because they signal a broken
// invariant rather than a transaction that lost a race.
package xerrors

import (
	"github.com/cockroachdb/errors"
)

// Kind classifies why a transaction failed to commit.
type Kind int

const (
	// KindNone means the transaction committed; there is nothing to report.
	KindNone Kind = iota
	// KindFailedLocking means a lock/validate step lost a race. Retryable.
	KindFailedLocking
	// KindIndexErr means the application observed a logical conflict, such
	// as a duplicate key in a unique index. Retryable at the caller's
	// discretion, but not a storage-engine bug.
	KindIndexErr
	// KindUser means the caller called ShouldAbort explicitly.
	KindUser
)

func (k Kind) String() string {
	switch k {
	case KindFailedLocking:
		return "failed_locking"
	case KindIndexErr:
		return "index_err"
	case KindUser:
		return "user"
	default:
		return "none"
	}
}

// Sentinel errors a caller can match with errors.Is.
var (
	FailedLocking = errors.New("storage: failed locking")
	IndexErr      = errors.New("storage: index error")
)

// Wrap attaches kind-specific context to err using cockroachdb/errors so the
// resulting error carries a stack trace and can still be matched with Is.
func Wrap(kind Kind, err error, msg string) error {
	switch kind {
	case KindFailedLocking:
		return errors.Mark(errors.Wrap(err, msg), FailedLocking)
	case KindIndexErr:
		return errors.Mark(errors.Wrap(err, msg), IndexErr)
	default:
		return errors.Wrap(err, msg)
	}
}

// Fatal panics with a wrapped, stack-carrying error. It is used for
// conditions the engine considers unreachable: a spin threshold tripped, a
// lock-count underflow, a wrong-type downcast on a buffered write. These are
// invariant violations, not recoverable transaction failures.
func Fatal(msg string, args ...interface{}) {
	panic(errors.AssertionFailedf(msg, args...))
}

// Unreachable is Fatal for a code path that should be provably dead.
func Unreachable(where string) {
	panic(errors.AssertionFailedf("unreachable: %s", where))
}
