package funding

import (
	"github.com/makala-pay/makala_pay/internal/payment"
)

// Signals are the strategy's answers relevant to one transition attempt.
type Signals struct {
	Ready    bool
	Cleared  bool
	Canceled bool
}

// Outcome is a decided transition: the next status plus the ledger side
// effects to apply. Originate and Reverse are idempotent instructions, not
// guarantees that a new book transaction will be written.
type Outcome struct {
	Next      Status
	Originate bool
	Reverse   bool
}

// decide is the pure transition function of the funding state machine.
// Applying side effects and persisting the row is the service's job, so
// tests can enumerate the whole table without a store.
func decide(status Status, event Event, sig Signals) (Outcome, error) {
	switch event {
	case EventCollectFunds:
		switch status {
		case StatusCreated:
			if !sig.Ready {
				return Outcome{Next: StatusCreated}, nil
			}
			return Outcome{Next: StatusCollecting, Originate: true}, nil
		case StatusCollecting:
			if sig.Canceled {
				return Outcome{Next: StatusCanceled, Reverse: true}, nil
			}
			if sig.Cleared {
				return Outcome{Next: StatusCleared}, nil
			}
			// Still in flight; re-asserting origination keeps a crash
			// between strategy call and ledger write recoverable.
			return Outcome{Next: StatusCollecting, Originate: true}, nil
		default:
			return Outcome{}, payment.Preconditionf("cannot collect funds for a %s funding transaction", status)
		}
	case EventCancel:
		if status.Terminal() {
			return Outcome{}, payment.Preconditionf("cannot cancel a %s funding transaction", status)
		}
		return Outcome{Next: StatusCanceled, Reverse: true}, nil
	case EventPutIntoReview:
		if status.Terminal() || status == StatusNeedsReview {
			return Outcome{}, payment.Preconditionf("cannot put a %s funding transaction into review", status)
		}
		return Outcome{Next: StatusNeedsReview}, nil
	default:
		return Outcome{}, payment.Preconditionf("unknown funding event %q", event)
	}
}
