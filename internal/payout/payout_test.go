package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/makala-pay/makala_pay/internal/category"
	"github.com/makala-pay/makala_pay/internal/funding"
	"github.com/makala-pay/makala_pay/internal/ledger"
	"github.com/makala-pay/makala_pay/internal/logging"
	"github.com/makala-pay/makala_pay/internal/payment"
)

type ticketRecorder struct {
	subjects []string
}

func (r *ticketRecorder) CreateTicket(_ context.Context, subject, _ string) error {
	r.subjects = append(r.subjects, subject)
	return nil
}

type fixture struct {
	ledgers *ledger.Service
	svc     *Service
	account ledger.Account
	cash    ledger.Ledger
	fake    *FakeStrategy
	tickets *ticketRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	cats := category.NewMemoryStore()
	ledgers := ledger.NewService(ledger.NewMemoryStore(), cats, "USD")
	_, err := category.Cash(ctx, cats)
	require.NoError(t, err)

	account, err := ledgers.AccountForMember(ctx, uuid.New())
	require.NoError(t, err)
	cash, err := ledgers.EnsureCashLedger(ctx, account)
	require.NoError(t, err)

	fake := NewFakeStrategy()
	strategies := &Strategies{
		Refunds: StaticRefundGateway{},
		Fake: func(rec StrategyRecord) Strategy {
			fake.Rec = rec
			return fake
		},
	}
	tickets := &ticketRecorder{}
	svc := NewService(ledgers, NewMemoryStore(), strategies, tickets, logging.Discard())
	return &fixture{ledgers: ledgers, svc: svc, account: account, cash: cash, fake: fake, tickets: tickets}
}

func (f *fixture) cashBalance(t *testing.T) int64 {
	t.Helper()
	bal, err := f.ledgers.Store().Balance(context.Background(), f.cash.ID)
	require.NoError(t, err)
	return bal
}

// clearedFunding fabricates the cleared funding a refund is issued against.
func (f *fixture) clearedFunding(t *testing.T, amount int64) funding.Transaction {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ledger.SeedBalance(ctx, f.ledgers.Store(), f.cash, amount))
	platform, err := f.ledgers.LookupPlatformAccount(ctx)
	require.NoError(t, err)
	platformCash, err := f.ledgers.EnsureCashLedger(ctx, platform)
	require.NoError(t, err)
	return funding.Transaction{
		ID:               uuid.New(),
		Status:           funding.StatusCleared,
		Amount:           amount,
		Currency:         "USD",
		AccountID:        f.account.ID,
		PlatformLedgerID: platformCash.ID,
		MemberLedgerID:   f.cash.ID,
		Memo:             "Funding from fake",
		Strategy:         funding.StrategyRecord{Kind: funding.StrategyFake},
	}
}

func TestClassificationTable(t *testing.T) {
	orig, cred, ref := uuid.New(), uuid.New(), uuid.New()
	cases := []struct {
		name string
		tx   Transaction
		want Classification
	}{
		{"refund", Transaction{OriginatedBookTransactionID: orig, CreditingBookTransactionID: cred, RefundedFundingTransactionID: ref}, ClassRefund},
		{"reversal", Transaction{OriginatedBookTransactionID: orig, RefundedFundingTransactionID: ref}, ClassReversal},
		{"payout", Transaction{OriginatedBookTransactionID: orig}, ClassPayout},
		{"platform payout", Transaction{}, ClassPlatformPayout},
		{"crediting without origination", Transaction{CreditingBookTransactionID: cred}, ClassUnknown},
		{"refund reference alone", Transaction{RefundedFundingTransactionID: ref}, ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.tx.Classification())
		})
	}
}

func TestStoreRejectsUnknownClassification(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, Transaction{
		Status: StatusCreated, Amount: 100, Currency: "USD",
		CreditingBookTransactionID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrUnknownClassification)

	tx, err := store.Create(ctx, Transaction{Status: StatusCreated, Amount: 100, Currency: "USD"})
	require.NoError(t, err)
	tx.CreditingBookTransactionID = uuid.New()
	_, err = store.Update(ctx, tx)
	require.ErrorIs(t, err, ErrUnknownClassification)
}

func TestDecideTable(t *testing.T) {
	cases := []struct {
		name   string
		status Status
		event  Event
		sig    Signals
		want   Outcome
		fails  bool
	}{
		{"created stays until ready", StatusCreated, EventSendFunds, Signals{}, Outcome{Next: StatusCreated}, false},
		{"created starts sending", StatusCreated, EventSendFunds, Signals{Ready: true}, Outcome{Next: StatusSending, Originate: true}, false},
		{"sending settles", StatusSending, EventSendFunds, Signals{Settled: true}, Outcome{Next: StatusSettled}, false},
		{"sending fails to canceled", StatusSending, EventSendFunds, Signals{Failed: true}, Outcome{Next: StatusCanceled, Reverse: true}, false},
		{"sending re-asserts origination", StatusSending, EventSendFunds, Signals{}, Outcome{Next: StatusSending, Originate: true}, false},
		{"settled rejects send", StatusSettled, EventSendFunds, Signals{}, Outcome{}, true},
		{"cancel from needs_review", StatusNeedsReview, EventCancel, Signals{}, Outcome{Next: StatusCanceled, Reverse: true}, false},
		{"cancel rejects settled", StatusSettled, EventCancel, Signals{}, Outcome{}, true},
		{"review rejects terminal", StatusCanceled, EventPutIntoReview, Signals{}, Outcome{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decide(tc.status, tc.event, tc.sig)
			if tc.fails {
				var pre *payment.PreconditionError
				require.ErrorAs(t, err, &pre)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestStartNewDebitsMemberImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, ledger.SeedBalance(ctx, f.ledgers.Store(), f.cash, 2000))

	tx, err := f.svc.StartNew(ctx, f.account, 1500, f.fake, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, tx.Status)
	require.NotEqual(t, uuid.Nil, tx.OriginatedBookTransactionID)
	require.Equal(t, ClassPayout, tx.Classification())
	require.Equal(t, int64(500), f.cashBalance(t), "paid-out balance is unspendable while pending")
}

func TestStartPlatformPayoutTouchesNoLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.svc.StartPlatformPayout(ctx, 9000, f.svc.Strategies().OffPlatform("wire to operator"), uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, ClassPlatformPayout, tx.Classification())
	require.Equal(t, uuid.Nil, tx.OriginatedBookTransactionID)
	require.Equal(t, uuid.Nil, tx.MemberLedgerID)
}

func TestInitiateRefundCreditsThenDebits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fnd := f.clearedFunding(t, 1000)
	applyAt := time.Now().UTC()

	tx, err := f.svc.InitiateRefund(ctx, fnd, 600, applyAt, "req-1", nil, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, ClassRefund, tx.Classification())
	require.Equal(t, fnd.ID, tx.RefundedFundingTransactionID)

	credit, err := f.ledgers.Store().GetBookTransaction(ctx, tx.CreditingBookTransactionID)
	require.NoError(t, err)
	orig, err := f.ledgers.Store().GetBookTransaction(ctx, tx.OriginatedBookTransactionID)
	require.NoError(t, err)
	require.Equal(t, applyAt.Add(-time.Millisecond), credit.ApplyAt, "credit lands just before the debit")
	require.Equal(t, applyAt, orig.ApplyAt)
	require.Equal(t, f.cash.ID, credit.ReceivingLedgerID)
	require.Equal(t, f.cash.ID, orig.OriginatingLedgerID)
	require.Equal(t, int64(1000), f.cashBalance(t), "credit and debit cancel out for the member")

	left, err := f.svc.RefundableAmount(ctx, fnd)
	require.NoError(t, err)
	require.Equal(t, int64(400), left)
}

func TestInitiateRefundCapNamesExactAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fnd := f.clearedFunding(t, 1000)
	applyAt := time.Now().UTC()

	_, err := f.svc.InitiateRefund(ctx, fnd, 600, applyAt, "req-1", nil, uuid.Nil)
	require.NoError(t, err)

	_, err = f.svc.InitiateRefund(ctx, fnd, 500, applyAt, "req-2", nil, uuid.Nil)
	var pre *payment.PreconditionError
	require.ErrorAs(t, err, &pre)
	require.Contains(t, err.Error(), "refund of USD 5.00 exceeds the refundable amount USD 4.00")

	_, err = f.svc.InitiateRefund(ctx, fnd, 0, applyAt, "req-3", nil, uuid.Nil)
	require.ErrorAs(t, err, &pre)
}

type flakyStore struct {
	Store
	failCreates int
}

func (s *flakyStore) Create(ctx context.Context, t Transaction) (Transaction, error) {
	if s.failCreates > 0 {
		s.failCreates--
		return Transaction{}, errors.New("connection reset")
	}
	return s.Store.Create(ctx, t)
}

func TestInitiateRefundRetryAdoptsEarlierMovements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fnd := f.clearedFunding(t, 1000)
	flaky := &flakyStore{Store: f.svc.Store(), failCreates: 1}
	svc := NewService(f.ledgers, flaky, f.svc.Strategies(), f.tickets, logging.Discard())

	_, err := svc.InitiateRefund(ctx, fnd, 600, time.Now().UTC(), "req-42", nil, uuid.Nil)
	require.Error(t, err)

	bts, err := f.ledgers.Store().CombinedBookTransactions(ctx, f.cash.ID)
	require.NoError(t, err)
	require.Len(t, bts, 3, "seed plus one credit and one debit")

	// The client retry carries the same reference, so the earlier credit
	// and debit are adopted rather than booked again.
	tx, err := svc.InitiateRefund(ctx, fnd, 600, time.Now().UTC(), "req-42", nil, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, ClassRefund, tx.Classification())
	require.NotEqual(t, uuid.Nil, tx.CreditingBookTransactionID)
	require.NotEqual(t, uuid.Nil, tx.OriginatedBookTransactionID)

	bts, err = f.ledgers.Store().CombinedBookTransactions(ctx, f.cash.ID)
	require.NoError(t, err)
	require.Len(t, bts, 3, "the retry books nothing new")
	require.Equal(t, int64(1000), f.cashBalance(t))

	left, err := svc.RefundableAmount(ctx, fnd)
	require.NoError(t, err)
	require.Equal(t, int64(400), left)
}

func TestInitiateRefundReplaysByReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fnd := f.clearedFunding(t, 1000)

	first, err := f.svc.InitiateRefund(ctx, fnd, 600, time.Now().UTC(), "req-7", nil, uuid.Nil)
	require.NoError(t, err)

	again, err := f.svc.InitiateRefund(ctx, fnd, 600, time.Now().UTC(), "req-7", nil, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	left, err := f.svc.RefundableAmount(ctx, fnd)
	require.NoError(t, err)
	require.Equal(t, int64(400), left, "the replay counts once against the cap")

	var pre *payment.PreconditionError
	_, err = f.svc.InitiateRefund(ctx, fnd, 100, time.Now().UTC(), "req-7", nil, uuid.Nil)
	require.ErrorAs(t, err, &pre, "a reused reference cannot change the amount")

	_, err = f.svc.InitiateRefund(ctx, fnd, 100, time.Now().UTC(), "", nil, uuid.Nil)
	require.ErrorAs(t, err, &pre)
}

func TestSendFundsSettlesRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fnd := f.clearedFunding(t, 1000)

	tx, err := f.svc.InitiateRefund(ctx, fnd, 1000, time.Now().UTC(), "req-1", nil, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, tx.Status)

	sending, err := f.svc.SendFunds(ctx, tx.ID, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, StatusSending, sending.Status)
	require.Equal(t, 1, f.fake.SendCalls)

	f.fake.Settled = true
	settled, err := f.svc.SendFunds(ctx, tx.ID, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, StatusSettled, settled.Status)

	_, err = f.svc.Cancel(ctx, tx.ID, uuid.Nil)
	var pre *payment.PreconditionError
	require.ErrorAs(t, err, &pre, "settled is terminal")
}

func TestSteadySendingTickAppendsNoAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, ledger.SeedBalance(ctx, f.ledgers.Store(), f.cash, 700))

	tx, err := f.svc.StartNew(ctx, f.account, 700, f.fake, uuid.Nil)
	require.NoError(t, err)
	_, err = f.svc.SendFunds(ctx, tx.ID, uuid.Nil)
	require.NoError(t, err)

	audits, err := f.svc.Store().Audits(ctx, tx.ID)
	require.NoError(t, err)
	before := len(audits)

	// Funds neither settled nor failed: polling must not grow the audit log.
	for i := 0; i < 3; i++ {
		got, err := f.svc.SendFunds(ctx, tx.ID, uuid.Nil)
		require.NoError(t, err)
		require.Equal(t, StatusSending, got.Status)
	}

	audits, err = f.svc.Store().Audits(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, audits, before)
}

func TestCancelRefundReversesBothMovements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fnd := f.clearedFunding(t, 1000)

	tx, err := f.svc.InitiateRefund(ctx, fnd, 800, time.Now().UTC(), "req-1", nil, uuid.Nil)
	require.NoError(t, err)
	_, err = f.svc.SendFunds(ctx, tx.ID, uuid.Nil)
	require.NoError(t, err)

	canceled, err := f.svc.Cancel(ctx, tx.ID, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, canceled.Status)
	require.NotEqual(t, uuid.Nil, canceled.ReversalBookTransactionID)
	require.Equal(t, int64(1000), f.cashBalance(t))

	// Credit, debit, and their two reversals all touch the member's cash.
	bts, err := f.ledgers.Store().CombinedBookTransactions(ctx, f.cash.ID)
	require.NoError(t, err)
	require.Len(t, bts, 5, "seed plus four refund movements")
}

func TestExternalFailureCancelsWithReversal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, ledger.SeedBalance(ctx, f.ledgers.Store(), f.cash, 500))

	tx, err := f.svc.StartNew(ctx, f.account, 500, f.fake, uuid.Nil)
	require.NoError(t, err)
	_, err = f.svc.SendFunds(ctx, tx.ID, uuid.Nil)
	require.NoError(t, err)

	f.fake.Failed = true
	got, err := f.svc.SendFunds(ctx, tx.ID, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, got.Status)
	require.Equal(t, int64(500), f.cashBalance(t), "the reversal restores the member's balance")
}

func TestTerminalSendFailureGoesToReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, ledger.SeedBalance(ctx, f.ledgers.Store(), f.cash, 500))

	tx, err := f.svc.StartNew(ctx, f.account, 500, f.fake, uuid.Nil)
	require.NoError(t, err)

	f.fake.SendErr = &payment.SendFundsFailedError{Msg: "charge refund failed", Cause: errors.New("charge disputed")}
	reviewed, err := f.svc.SendFunds(ctx, tx.ID, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, StatusNeedsReview, reviewed.Status)

	audits, err := f.svc.Store().Audits(ctx, tx.ID)
	require.NoError(t, err)
	last := audits[len(audits)-1]
	require.Contains(t, last.Message, "charge disputed")
	require.Len(t, f.tickets.subjects, 1)

	// Still cancelable by a human, reversing the early debit.
	canceled, err := f.svc.Cancel(ctx, tx.ID, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, canceled.Status)
	require.Equal(t, int64(500), f.cashBalance(t))
}

func TestProcessPendingDrivesBacklog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, ledger.SeedBalance(ctx, f.ledgers.Store(), f.cash, 900))

	tx, err := f.svc.StartNew(ctx, f.account, 900, f.fake, uuid.Nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.ProcessPending(ctx))
	got, err := f.svc.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSending, got.Status)

	f.fake.Settled = true
	require.NoError(t, f.svc.ProcessPending(ctx))
	got, err = f.svc.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSettled, got.Status)
}

func TestForFundingInfersStrategy(t *testing.T) {
	f := newFixture(t)
	strategies := f.svc.Strategies()

	s, err := strategies.ForFunding(funding.StrategyRecord{Kind: funding.StrategyCard, ExternalRef: "ch_123"})
	require.NoError(t, err)
	require.Equal(t, StrategyChargeRefund, s.Kind())
	require.Equal(t, "ch_123", s.Record().ChargeRef)

	_, err = strategies.ForFunding(funding.StrategyRecord{Kind: funding.StrategyACH})
	var pre *payment.PreconditionError
	require.ErrorAs(t, err, &pre, "no external reference to refund against")

	s, err = strategies.ForFunding(funding.StrategyRecord{Kind: funding.StrategyOffPlatform, Note: "cash"})
	require.NoError(t, err)
	require.Equal(t, StrategyOffPlatform, s.Kind())

	_, err = strategies.ForFunding(funding.StrategyRecord{Kind: funding.StrategyKind("bogus")})
	require.ErrorIs(t, err, payment.ErrUnsupportedMethod)
}
