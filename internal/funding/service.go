package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/ledger"
	"github.com/makala-pay/makala_pay/internal/metrics"
	"github.com/makala-pay/makala_pay/internal/payment"
)

// CollectPolicy controls whether StartNew attempts the first collection
// immediately.
type CollectPolicy int

const (
	// CollectNever leaves the new transaction at created.
	CollectNever CollectPolicy = iota
	// CollectIfReady attempts one collection and accepts staying at created
	// when the strategy is not ready.
	CollectIfReady
	// CollectMust attempts one collection and fails when the strategy is not
	// ready.
	CollectMust
)

// Service drives funding transactions through their state machine.
type Service struct {
	ledgers    *ledger.Service
	store      Store
	strategies *Strategies
	tickets    payment.TicketSink
	logger     *slog.Logger
}

// NewService builds a funding service.
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

// Get returns a funding transaction.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return s.store.Get(ctx, id)
}

// StartNew validates the strategy and creates a funding transaction for the
// account. An invalid strategy fails with *payment.InvalidError and nothing
// is persisted. The collect policy controls the first collection attempt.
func (s *Service) StartNew(ctx context.Context, account ledger.Account, amount int64, strat Strategy, policy CollectPolicy, actorID uuid.UUID) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, payment.Preconditionf("funding amount must be positive, got %d", amount)
	}
	if problems := strat.CheckValidity(); len(problems) > 0 {
		return Transaction{}, &payment.InvalidError{Reasons: problems}
	}
	memberCash, err := s.ledgers.EnsureCashLedger(ctx, account)
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
		Memo:             "Funding from " + strat.OriginatingInstrumentLabel(),
		Strategy:         strat.Record(),
	})
	if err != nil {
		return Transaction{}, err
	}
	if policy == CollectNever {
		return t, nil
	}
	t, err = s.collect(ctx, t, strat, actorID)
	if err != nil {
		return t, err
	}
	if policy == CollectMust && t.Status == StatusCreated {
		return t, payment.Preconditionf("funding transaction %s could not start collecting", t.ID)
	}
	return t, nil
}

// StartAndTransfer creates a funding transaction and immediately moves the
// amount from the platform cash ledger into the given receiving ledger,
// trusting that collection will clear. Operators use it for subsidized
// purchases paid outside the platform.
func (s *Service) StartAndTransfer(ctx context.Context, account ledger.Account, amount int64, strat Strategy, receiving ledger.Ledger, categoryID uuid.UUID, actorID uuid.UUID) (Transaction, ledger.BookTransaction, error) {
	t, err := s.StartNew(ctx, account, amount, strat, CollectIfReady, actorID)
	if err != nil {
		return t, ledger.BookTransaction{}, err
	}
	bt, err := s.ledgers.Store().CreateBookTransaction(ctx, ledger.BookTransaction{
		OpaqueID:            "fundxfer_" + t.ID.String(),
		ApplyAt:             time.Now().UTC(),
		OriginatingLedgerID: t.PlatformLedgerID,
		ReceivingLedgerID:   receiving.ID,
		Amount:              amount,
		Currency:            t.Currency,
		CategoryID:          categoryID,
		Memo:                t.Memo,
		ActorID:             actorID,
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		err = nil
	}
	if err != nil {
		return t, ledger.BookTransaction{}, err
	}
	return t, bt, nil
}

// CollectFunds drives one collect_funds transition: created transactions
// start collecting when their strategy is ready (originating the funding
// book transaction exactly once), collecting transactions settle to cleared
// or cancel with a reversal. Safe to call repeatedly and concurrently.
func (s *Service) CollectFunds(ctx context.Context, id, actorID uuid.UUID) (Transaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	strat, err := s.strategies.ForRecord(t.Strategy)
	if err != nil {
		return t, err
	}
	return s.collect(ctx, t, strat, actorID)
}

func (s *Service) collect(ctx context.Context, t Transaction, strat Strategy, actorID uuid.UUID) (Transaction, error) {
	var sig Signals
	switch t.Status {
	case StatusCreated:
		ready, err := strat.ReadyToCollectFunds(ctx, &t)
		if terminalCollectFailure(err) {
			return s.putIntoReview(ctx, t, EventCollectFunds, err, actorID)
		}
		if err != nil {
			return t, err
		}
		sig.Ready = ready
	case StatusCollecting:
		cleared, err := strat.FundsCleared(ctx, &t)
		if err != nil {
			return t, err
		}
		canceled, err := strat.FundsCanceled(ctx, &t)
		if err != nil {
			return t, err
		}
		sig.Cleared, sig.Canceled = cleared, canceled
	}
	out, err := decide(t.Status, EventCollectFunds, sig)
	if err != nil {
		return t, err
	}
	if out.Next == StatusCreated {
		// Strategy not ready; nothing to record.
		return t, nil
	}
	if out.Originate {
		if err := strat.CollectFunds(ctx, &t); err != nil {
			t.Strategy = strat.Record()
			if _, uerr := s.store.Update(ctx, t); uerr != nil {
				return t, uerr
			}
			if terminalCollectFailure(err) {
				return s.putIntoReview(ctx, t, EventCollectFunds, err, actorID)
			}
			return t, err
		}
		if err := s.originate(ctx, &t, actorID); err != nil {
			return t, err
		}
	}
	if out.Reverse {
		if err := s.reverse(ctx, &t, actorID); err != nil {
			return t, err
		}
	}
	return s.finishTransition(ctx, t, EventCollectFunds, out.Next, strat.Record(), "", "", actorID)
}

// Cancel moves any non-terminal transaction, including one in needs_review,
// to canceled, reversing the originated book transaction if there is one.
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

// ProcessPending re-drives every transaction in a transient status. Errors
// are logged per-transaction and do not stop the sweep; needs_review rows
// are left for a human.
func (s *Service) ProcessPending(ctx context.Context) error {
	pending, err := s.store.ListInStatus(ctx, StatusCreated, StatusCollecting)
	if err != nil {
		return err
	}
	for _, t := range pending {
		if _, err := s.CollectFunds(ctx, t.ID, uuid.Nil); err != nil {
			s.logger.Error("funding collect failed",
				"transaction_id", t.ID, "status", t.Status, "error", err)
		}
	}
	return nil
}

// originate creates the funding book transaction (platform cash to member
// cash) exactly once; a retried transition finds and reuses the existing row
// through its deterministic opaque id.
func (s *Service) originate(ctx context.Context, t *Transaction, actorID uuid.UUID) error {
	bt, err := s.ledgers.Store().CreateBookTransaction(ctx, ledger.BookTransaction{
		OpaqueID:            "fund_" + t.ID.String(),
		ApplyAt:             time.Now().UTC(),
		OriginatingLedgerID: t.PlatformLedgerID,
		ReceivingLedgerID:   t.MemberLedgerID,
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

// reverse posts the equal-and-opposite book transaction for a canceled
// collection. Reversal, like origination, happens at most once.
func (s *Service) reverse(ctx context.Context, t *Transaction, actorID uuid.UUID) error {
	if t.OriginatedBookTransactionID == uuid.Nil || t.ReversalBookTransactionID != uuid.Nil {
		return nil
	}
	orig, err := s.ledgers.Store().GetBookTransaction(ctx, t.OriginatedBookTransactionID)
	if err != nil {
		return err
	}
	bt, err := s.ledgers.Store().CreateBookTransaction(ctx, ledger.BookTransaction{
		OpaqueID:            "fundrev_" + t.ID.String(),
		ApplyAt:             time.Now().UTC(),
		OriginatingLedgerID: orig.ReceivingLedgerID,
		ReceivingLedgerID:   orig.OriginatingLedgerID,
		Amount:              orig.Amount,
		Currency:            orig.Currency,
		CategoryID:          orig.CategoryID,
		Memo:                "Reversal of " + orig.Memo,
		ActorID:             actorID,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return err
	}
	t.ReversalBookTransactionID = bt.ID
	return nil
}

// putIntoReview parks the transaction for a human, with an audit entry
// carrying the flattened failure chain and the innermost error type as the
// reason tag, and opens a support ticket.
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
	metrics.ReviewFlags.WithLabelValues("funding").Inc()
	s.logger.Warn("funding transaction needs review",
		"transaction_id", t.ID, "reason", reason, "error", msg)
	if s.tickets != nil {
		subject := fmt.Sprintf("Funding transaction %s needs review", t.ID)
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
	metrics.Transitions.WithLabelValues("funding", string(from), string(next)).Inc()
	s.logger.Info("funding transition",
		"transaction_id", t.ID, "event", event, "from", from, "to", next)
	return t, nil
}

func terminalCollectFailure(err error) bool {
	var cf *payment.CollectFundsFailedError
	return errors.As(err, &cf)
}
