package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/funding"
	"github.com/makala-pay/makala_pay/internal/ledger"
	"github.com/makala-pay/makala_pay/internal/metrics"
	"github.com/makala-pay/makala_pay/internal/payment"
)

// Service drives payout transactions through their state machine.
type Service struct {
	ledgers    *ledger.Service
	store      Store
	strategies *Strategies
	tickets    payment.TicketSink
	logger     *slog.Logger
}

// NewService builds a payout service.
func NewService(ledgers *ledger.Service, store Store, strategies *Strategies, tickets payment.TicketSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledgers: ledgers, store: store, strategies: strategies, tickets: tickets, logger: logger}
}

// Store returns the backing store.
func (s *Service) Store() Store { return s.store }

// Strategies returns the strategy factory.
func (s *Service) Strategies() *Strategies { return s.strategies }

// Get returns a payout transaction.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return s.store.Get(ctx, id)
}

// StartNew creates a payout from the account's cash ledger and immediately
// originates the member-cash-to-platform book transaction, so the paid-out
// balance cannot be spent while the external transfer is pending.
func (s *Service) StartNew(ctx context.Context, account ledger.Account, amount int64, strat Strategy, actorID uuid.UUID) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, payment.Preconditionf("payout amount must be positive, got %d", amount)
	}
	if problems := strat.CheckValidity(); len(problems) > 0 {
		return Transaction{}, &payment.InvalidError{Reasons: problems}
	}
	memberCash, err := s.ledgers.MustCashLedger(ctx, account)
	if err != nil {
		return Transaction{}, err
	}
	platform, err := s.ledgers.LookupPlatformAccount(ctx)
	if err != nil {
		return Transaction{}, err
	}
	platformCash, err := s.ledgers.EnsureCashLedger(ctx, platform)
	if err != nil {
		return Transaction{}, err
	}
	t, err := s.store.Create(ctx, Transaction{
		Status:           StatusCreated,
		Amount:           amount,
		Currency:         s.ledgers.Currency(),
		AccountID:        account.ID,
		PlatformLedgerID: platformCash.ID,
		MemberLedgerID:   memberCash.ID,
		Memo:             "Payout to " + strat.Label(),
		Strategy:         strat.Record(),
	})
	if err != nil {
		return Transaction{}, err
	}
	if err := s.originate(ctx, &t, time.Now().UTC(), actorID); err != nil {
		return t, err
	}
	return s.store.Update(ctx, t)
}

// StartPlatformPayout moves platform money externally with no member ledger
// involvement; no book transaction is created.
func (s *Service) StartPlatformPayout(ctx context.Context, amount int64, strat Strategy, actorID uuid.UUID) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, payment.Preconditionf("payout amount must be positive, got %d", amount)
	}
	if problems := strat.CheckValidity(); len(problems) > 0 {
		return Transaction{}, &payment.InvalidError{Reasons: problems}
	}
	platform, err := s.ledgers.LookupPlatformAccount(ctx)
	if err != nil {
		return Transaction{}, err
	}
	platformCash, err := s.ledgers.EnsureCashLedger(ctx, platform)
	if err != nil {
		return Transaction{}, err
	}
	return s.store.Create(ctx, Transaction{
		Status:           StatusCreated,
		Amount:           amount,
		Currency:         s.ledgers.Currency(),
		AccountID:        platform.ID,
		PlatformLedgerID: platformCash.ID,
		Memo:             "Platform payout to " + strat.Label(),
		Strategy:         strat.Record(),
	})
}

// InitiateRefund creates a refund payout against a cleared funding. The
// member is credited instantly (applied 1ms before the platform debit, so
// as-of queries at the debit's apply time already include the credit); the
// external send is driven later by the poller. A nil strategy is inferred
// from the funding's strategy.
//
// ref must be stable across client retries (the admin API passes the
// request's Idempotency-Key): the payout id and the book transactions'
// opaque ids derive from it, so a retry after a partial failure adopts the
// movements already written instead of minting a new credit and debit.
func (s *Service) InitiateRefund(ctx context.Context, f funding.Transaction, amount int64, applyAt time.Time, ref string, strat Strategy, actorID uuid.UUID) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, payment.Preconditionf("refund amount must be positive, got %d", amount)
	}
	if ref == "" {
		return Transaction{}, payment.Preconditionf("a refund reference is required")
	}
	id := uuid.NewSHA1(f.ID, []byte("refund:"+ref))
	existing, err := s.store.Get(ctx, id)
	if err == nil {
		if existing.Amount != amount {
			return Transaction{}, payment.Preconditionf("refund reference %q was already used for %s",
				ref, payment.FormatAmount(existing.Amount, existing.Currency))
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Transaction{}, err
	}
	refundable, err := s.RefundableAmount(ctx, f)
	if err != nil {
		return Transaction{}, err
	}
	if amount > refundable {
		return Transaction{}, payment.Preconditionf("refund of %s exceeds the refundable amount %s",
			payment.FormatAmount(amount, f.Currency), payment.FormatAmount(refundable, f.Currency))
	}
	if strat == nil {
		strat, err = s.strategies.ForFunding(f.Strategy)
		if err != nil {
			return Transaction{}, err
		}
	}
	if problems := strat.CheckValidity(); len(problems) > 0 {
		return Transaction{}, &payment.InvalidError{Reasons: problems}
	}

	t := Transaction{
		ID:                           id,
		Status:                       StatusCreated,
		Amount:                       amount,
		Currency:                     f.Currency,
		AccountID:                    f.AccountID,
		PlatformLedgerID:             f.PlatformLedgerID,
		MemberLedgerID:               f.MemberLedgerID,
		RefundedFundingTransactionID: f.ID,
		Memo:                         "Refund of " + f.Memo,
		Strategy:                     strat.Record(),
	}
	credit, err := s.ledgers.Store().CreateBookTransaction(ctx, ledger.BookTransaction{
		OpaqueID:            "pocred_" + t.ID.String(),
		ApplyAt:             applyAt.Add(-time.Millisecond),
		OriginatingLedgerID: t.PlatformLedgerID,
		ReceivingLedgerID:   t.MemberLedgerID,
		Amount:              amount,
		Currency:            t.Currency,
		Memo:                t.Memo,
		ActorID:             actorID,
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		// A prior attempt that failed before persisting the row; adopt
		// its movements, but never under a changed amount.
		if credit.Amount != amount {
			return Transaction{}, payment.Preconditionf("refund reference %q was already used for %s",
				ref, payment.FormatAmount(credit.Amount, credit.Currency))
		}
		err = nil
	}
	if err != nil {
		return Transaction{}, err
	}
	t.CreditingBookTransactionID = credit.ID
	if err := s.originate(ctx, &t, applyAt, actorID); err != nil {
		return Transaction{}, err
	}
	return s.store.Create(ctx, t)
}

// RefundableAmount is how much of the funding can still be refunded: its
// amount minus all payouts already issued against it.
func (s *Service) RefundableAmount(ctx context.Context, f funding.Transaction) (int64, error) {
	refunded, err := s.store.RefundedAmountForFunding(ctx, f.ID)
	if err != nil {
		return 0, err
	}
	return f.Amount - refunded, nil
}

// SendFunds drives one send_funds transition: created payouts start sending
// when their strategy is ready, sending payouts settle or cancel with a
// reversal. Safe to call repeatedly and concurrently.
func (s *Service) SendFunds(ctx context.Context, id, actorID uuid.UUID) (Transaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	strat, err := s.strategies.ForRecord(t.Strategy)
	if err != nil {
		return t, err
	}
	return s.send(ctx, t, strat, actorID)
}

func (s *Service) send(ctx context.Context, t Transaction, strat Strategy, actorID uuid.UUID) (Transaction, error) {
	var sig Signals
	switch t.Status {
	case StatusCreated:
		ready, err := strat.ReadyToSendFunds(ctx, &t)
		if terminalSendFailure(err) {
			return s.putIntoReview(ctx, t, EventSendFunds, err, actorID)
		}
		if err != nil {
			return t, err
		}
		sig.Ready = ready
	case StatusSending:
		settled, err := strat.FundsSettled(ctx, &t)
		if err != nil {
			return t, err
		}
		failed, err := strat.SendFailed(ctx, &t)
		if err != nil {
			return t, err
		}
		sig.Settled, sig.Failed = settled, failed
	}
	out, err := decide(t.Status, EventSendFunds, sig)
	if err != nil {
		return t, err
	}
	if out.Next == StatusCreated {
		return t, nil
	}
	if out.Originate {
		if err := strat.SendFunds(ctx, &t); err != nil {
			t.Strategy = strat.Record()
			if _, uerr := s.store.Update(ctx, t); uerr != nil {
				return t, uerr
			}
			if terminalSendFailure(err) {
				return s.putIntoReview(ctx, t, EventSendFunds, err, actorID)
			}
			return t, err
		}
		if err := s.originate(ctx, &t, time.Now().UTC(), actorID); err != nil {
			return t, err
		}
	}
	if out.Reverse {
		if err := s.reverse(ctx, &t, actorID); err != nil {
			return t, err
		}
	}
	return s.finishTransition(ctx, t, EventSendFunds, out.Next, strat.Record(), "", "", actorID)
}

// Cancel moves any non-terminal payout, including one in needs_review, to
// canceled, reversing its book transactions.
func (s *Service) Cancel(ctx context.Context, id, actorID uuid.UUID) (Transaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	out, err := decide(t.Status, EventCancel, Signals{})
	if err != nil {
		return t, err
	}
	if out.Reverse {
		if err := s.reverse(ctx, &t, actorID); err != nil {
			return t, err
		}
	}
	return s.finishTransition(ctx, t, EventCancel, out.Next, t.Strategy, "", "", actorID)
}

// ProcessPending re-drives every payout in a transient status. Errors are
// logged per-transaction; needs_review rows are left for a human.
func (s *Service) ProcessPending(ctx context.Context) error {
	pending, err := s.store.ListInStatus(ctx, StatusCreated, StatusSending)
	if err != nil {
		return err
	}
	for _, t := range pending {
		if _, err := s.SendFunds(ctx, t.ID, uuid.Nil); err != nil {
			s.logger.Error("payout send failed",
				"transaction_id", t.ID, "status", t.Status, "error", err)
		}
	}
	return nil
}

// originate creates the payout's platform debit (member cash to platform
// cash) exactly once; platform payouts have no member ledger and no debit.
func (s *Service) originate(ctx context.Context, t *Transaction, applyAt time.Time, actorID uuid.UUID) error {
	if t.MemberLedgerID == uuid.Nil {
		return nil
	}
	bt, err := s.ledgers.Store().CreateBookTransaction(ctx, ledger.BookTransaction{
		OpaqueID:            "po_" + t.ID.String(),
		ApplyAt:             applyAt,
		OriginatingLedgerID: t.MemberLedgerID,
		ReceivingLedgerID:   t.PlatformLedgerID,
		Amount:              t.Amount,
		Currency:            t.Currency,
		Memo:                t.Memo,
		ActorID:             actorID,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return err
	}
	t.OriginatedBookTransactionID = bt.ID
	return nil
}

// reverse undoes the payout's ledger effects: the platform debit and, for
// refunds, the instant member credit. Each reversal happens at most once.
func (s *Service) reverse(ctx context.Context, t *Transaction, actorID uuid.UUID) error {
	if t.ReversalBookTransactionID != uuid.Nil {
		return nil
	}
	if t.OriginatedBookTransactionID != uuid.Nil {
		orig, err := s.ledgers.Store().GetBookTransaction(ctx, t.OriginatedBookTransactionID)
		if err != nil {
			return err
		}
		bt, err := s.ledgers.Store().CreateBookTransaction(ctx, ledger.BookTransaction{
			OpaqueID:            "porev_" + t.ID.String(),
			ApplyAt:             time.Now().UTC(),
			OriginatingLedgerID: orig.ReceivingLedgerID,
			ReceivingLedgerID:   orig.OriginatingLedgerID,
			Amount:              orig.Amount,
			Currency:            orig.Currency,
			Memo:                "Reversal of " + orig.Memo,
			ActorID:             actorID,
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return err
		}
		t.ReversalBookTransactionID = bt.ID
	}
	if t.CreditingBookTransactionID != uuid.Nil {
		credit, err := s.ledgers.Store().GetBookTransaction(ctx, t.CreditingBookTransactionID)
		if err != nil {
			return err
		}
		_, err = s.ledgers.Store().CreateBookTransaction(ctx, ledger.BookTransaction{
			OpaqueID:            "pocredrev_" + t.ID.String(),
			ApplyAt:             time.Now().UTC(),
			OriginatingLedgerID: credit.ReceivingLedgerID,
			ReceivingLedgerID:   credit.OriginatingLedgerID,
			Amount:              credit.Amount,
			Currency:            credit.Currency,
			Memo:                "Reversal of " + credit.Memo,
			ActorID:             actorID,
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return err
		}
	}
	return nil
}

func (s *Service) putIntoReview(ctx context.Context, t Transaction, event Event, cause error, actorID uuid.UUID) (Transaction, error) {
	out, err := decide(t.Status, EventPutIntoReview, Signals{})
	if err != nil {
		return t, err
	}
	msg := payment.FlattenError(cause)
	reason := payment.ReasonTag(cause)
	t, err = s.finishTransition(ctx, t, event, out.Next, t.Strategy, msg, reason, actorID)
	if err != nil {
		return t, err
	}
	metrics.ReviewFlags.WithLabelValues("payout").Inc()
	s.logger.Warn("payout transaction needs review",
		"transaction_id", t.ID, "reason", reason, "error", msg)
	if s.tickets != nil {
		subject := fmt.Sprintf("Payout transaction %s needs review", t.ID)
		if terr := s.tickets.CreateTicket(ctx, subject, msg); terr != nil {
			s.logger.Error("support ticket creation failed", "transaction_id", t.ID, "error", terr)
		}
	}
	return t, nil
}

func (s *Service) finishTransition(ctx context.Context, t Transaction, event Event, next Status, rec StrategyRecord, message, reason string, actorID uuid.UUID) (Transaction, error) {
	from := t.Status
	if from == next {
		// Steady-state poller tick: persist strategy bookkeeping if it
		// moved, but no audit row for a transition that did not happen.
		if rec != t.Strategy {
			t.Strategy = rec
			return s.store.Update(ctx, t)
		}
		return t, nil
	}
	t.Status = next
	t.Strategy = rec
	t, err := s.store.Update(ctx, t)
	if err != nil {
		return t, err
	}
	if err := s.store.AppendAudit(ctx, payment.AuditLog{
		TransactionID: t.ID,
		At:            time.Now().UTC(),
		Event:         string(event),
		FromStatus:    string(from),
		ToStatus:      string(next),
		Message:       message,
		Reason:        reason,
		ActorID:       actorID,
	}); err != nil {
		return t, err
	}
	metrics.Transitions.WithLabelValues("payout", string(from), string(next)).Inc()
	s.logger.Info("payout transition",
		"transaction_id", t.ID, "event", event, "from", from, "to", next)
	return t, nil
}

func terminalSendFailure(err error) bool {
	var sf *payment.SendFundsFailedError
	return errors.As(err, &sf)
}
