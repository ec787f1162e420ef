package payout

import (
	"github.com/makala-pay/makala_pay/internal/payment"
)

// Signals are the strategy's answers relevant to one transition attempt.
type Signals struct {
	Ready   bool
	Settled bool
	Failed  bool
}

// Outcome is a decided transition plus its idempotent ledger side effects.
type Outcome struct {
	Next      Status
	Originate bool
	Reverse   bool
}

// decide is the pure transition function of the payout state machine; the
// service applies side effects and persists.
func decide(status Status, event Event, sig Signals) (Outcome, error) {
	switch event {
	case EventSendFunds:
		switch status {
		case StatusCreated:
			if !sig.Ready {
				return Outcome{Next: StatusCreated}, nil
			}
			return Outcome{Next: StatusSending, Originate: true}, nil
		case StatusSending:
			if sig.Failed {
				return Outcome{Next: StatusCanceled, Reverse: true}, nil
			}
			if sig.Settled {
				return Outcome{Next: StatusSettled}, nil
			}
			return Outcome{Next: StatusSending, Originate: true}, nil
		default:
			return Outcome{}, payment.Preconditionf("cannot send funds for a %s payout transaction", status)
		}
	case EventCancel:
		if status.Terminal() {
			return Outcome{}, payment.Preconditionf("cannot cancel a %s payout transaction", status)
		}
		return Outcome{Next: StatusCanceled, Reverse: true}, nil
	case EventPutIntoReview:
		if status.Terminal() || status == StatusNeedsReview {
			return Outcome{}, payment.Preconditionf("cannot put a %s payout transaction into review", status)
		}
		return Outcome{Next: StatusNeedsReview}, nil
	default:
		return Outcome{}, payment.Preconditionf("unknown payout event %q", event)
	}
}
