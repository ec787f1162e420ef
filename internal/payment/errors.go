// Package payment holds the error taxonomy, audit records, and support-ticket
// sink shared by the funding and payout transaction state machines.
package payment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStrategyUnavailable indicates no strategy matches the given
	// instrument or method. A configuration or input error, not a runtime
	// failure.
	ErrStrategyUnavailable = errors.New("no matching payment strategy")

	// ErrUnsupportedMethod indicates the instrument kind is recognized but
	// the requested operation is not supported for it.
	ErrUnsupportedMethod = errors.New("unsupported payment method")
)

// InvalidError is raised when a strategy's validity check fails. Nothing has
// been persisted; the caller must fix the input.
type InvalidError struct {
	Reasons []string
}

func (e *InvalidError) Error() string {
	return "payment could not be created: " + strings.Join(e.Reasons, ", ")
}

// PreconditionError indicates a programmer or data invariant was violated
// (account without a cash ledger, refund above the refundable amount).
// Always a hard stop, never recovered.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string { return e.Msg }

// Preconditionf builds a PreconditionError.
func Preconditionf(format string, args ...any) error {
	return &PreconditionError{Msg: fmt.Sprintf(format, args...)}
}

// CollectFundsFailedError is a terminal external failure while collecting
// funds. It always drives the funding transaction to needs_review, produces
// an audit entry and a support ticket, and is never silently retried.
type CollectFundsFailedError struct {
	Msg   string
	Cause error
}

func (e *CollectFundsFailedError) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *CollectFundsFailedError) Unwrap() error { return e.Cause }

// SendFundsFailedError is the payout-side counterpart of
// CollectFundsFailedError.
type SendFundsFailedError struct {
	Msg   string
	Cause error
}

func (e *SendFundsFailedError) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *SendFundsFailedError) Unwrap() error { return e.Cause }

// FlattenError renders the full wrap chain as one audit message.
func FlattenError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ReasonTag returns the type name of the innermost wrapped error, used as the
// reason tag on audit entries and support tickets.
func ReasonTag(err error) string {
	if err == nil {
		return ""
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

// FormatAmount renders minor currency units for human-readable errors, e.g.
// FormatAmount(1250, "USD") == "USD 12.50".
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, cents/100, cents%100)
}
