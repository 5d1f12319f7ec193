package errors

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/julianstephens/daybook/internal/logger"
)

// Kind classifies failures crossing the diary core boundary.
type Kind int

const (
	KindUnknown Kind = iota
	// KindIdentity: identity resolution failed or no identity is active.
	KindIdentity
	// KindSubscription: the store rejected or dropped the live feed.
	KindSubscription
	// KindValidation: the request was rejected locally without touching the store.
	KindValidation
	// KindMutation: a create or delete call failed.
	KindMutation
)

func (k Kind) String() string {
	switch k {
	case KindIdentity:
		return "identity"
	case KindSubscription:
		return "subscription"
	case KindValidation:
		return "validation"
	case KindMutation:
		return "mutation"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: KindValidation}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op) && t.Err == nil
}

func newError(kind Kind, op string, err error) error {
	if err == nil {
		err = stderrors.New(kind.String() + " failure")
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// IdentityError wraps an identity resolution failure
func IdentityError(op string, err error) error { return newError(KindIdentity, op, err) }

// SubscriptionError wraps a live feed failure
func SubscriptionError(op string, err error) error { return newError(KindSubscription, op, err) }

// ValidationError wraps a locally rejected request
func ValidationError(op string, err error) error { return newError(KindValidation, op, err) }

// MutationError wraps a failed create or delete
func MutationError(op string, err error) error { return newError(KindMutation, op, err) }

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsIdentity(err error) bool     { return KindOf(err) == KindIdentity }
func IsSubscription(err error) bool { return KindOf(err) == KindSubscription }
func IsValidation(err error) bool   { return KindOf(err) == KindValidation }
func IsMutation(err error) bool     { return KindOf(err) == KindMutation }

// Format formats an error message with a consistent "Error: " prefix
func Format(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Error: %v", err)
}

// Formatf formats an error message with a consistent "Error: " prefix using a format string
func Formatf(format string, args ...interface{}) string {
	return fmt.Sprintf("Error: "+format, args...)
}

// Fatal logs an error and exits the program with exit code 1
func Fatal(err error) {
	if err != nil {
		logger.Error("Command execution failed", "error", err, "kind", KindOf(err))
		fmt.Fprintf(os.Stderr, "%s\n", Format(err))
		os.Exit(1)
	}
}

// Fatalf logs and formats an error message, then exits the program with exit code 1
func Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("Command execution failed", "error", msg)
	fmt.Fprintf(os.Stderr, "%s\n", Formatf(format, args...))
	os.Exit(1)
}
