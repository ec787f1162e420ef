package payout

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/funding"
	"github.com/makala-pay/makala_pay/internal/payment"
)

// StrategyKind tags the closed set of send strategies.
type StrategyKind string

const (
	StrategyOffPlatform  StrategyKind = "off_platform"
	StrategyChargeRefund StrategyKind = "charge_refund"
	StrategyFake         StrategyKind = "fake"
)

// StrategyRecord is the persisted form of a payout strategy. ChargeRef is
// the external processor's transaction id being refunded; ExternalRef is the
// reference the gateway returns for the outbound movement.
type StrategyRecord struct {
	Kind        StrategyKind
	ChargeRef   string
	ExternalRef string
	Note        string
}

// RefundGateway refunds a previously processed external charge.
type RefundGateway interface {
	RefundCharge(ctx context.Context, chargeRef string, amount int64, currency string) (ref string, err error)
	RefundStatus(ctx context.Context, ref string) (funding.TransferStatus, error)
}

// Strategy is the pluggable send behavior behind a payout transaction.
// Terminal failures are *payment.SendFundsFailedError; other errors are
// transient and retried on the next poller tick.
type Strategy interface {
	Kind() StrategyKind
	Record() StrategyRecord
	CheckValidity() []string
	ReadyToSendFunds(ctx context.Context, t *Transaction) (bool, error)
	SendFunds(ctx context.Context, t *Transaction) error
	FundsSettled(ctx context.Context, t *Transaction) (bool, error)
	SendFailed(ctx context.Context, t *Transaction) (bool, error)
	Label() string
}

// Strategies builds and rehydrates payout strategies.
type Strategies struct {
	Refunds RefundGateway
	// Fake, when set, rehydrates fake-strategy records for tests.
	Fake func(rec StrategyRecord) Strategy
}

// OffPlatform returns a strategy for money sent outside the platform (cash,
// check, manual settlement).
func (f *Strategies) OffPlatform(note string) Strategy {
	return &offPlatformStrategy{rec: StrategyRecord{Kind: StrategyOffPlatform, Note: note}}
}

// ChargeRefund returns a strategy refunding the processor charge with the
// given external transaction id.
func (f *Strategies) ChargeRefund(chargeRef string) Strategy {
	return &chargeRefundStrategy{rec: StrategyRecord{Kind: StrategyChargeRefund, ChargeRef: chargeRef}, gw: f.Refunds}
}

// ForRecord rehydrates a strategy from its persisted record.
func (f *Strategies) ForRecord(rec StrategyRecord) (Strategy, error) {
	switch rec.Kind {
	case StrategyOffPlatform:
		return &offPlatformStrategy{rec: rec}, nil
	case StrategyChargeRefund:
		return &chargeRefundStrategy{rec: rec, gw: f.Refunds}, nil
	case StrategyFake:
		if f.Fake != nil {
			return f.Fake(rec), nil
		}
		return &FakeStrategy{Rec: rec}, nil
	default:
		return nil, fmt.Errorf("%w: strategy kind %q", payment.ErrStrategyUnavailable, rec.Kind)
	}
}

// ForFunding infers the payout strategy that undoes a funding collection.
func (f *Strategies) ForFunding(rec funding.StrategyRecord) (Strategy, error) {
	switch rec.Kind {
	case funding.StrategyACH, funding.StrategyCard:
		if rec.ExternalRef == "" {
			return nil, payment.Preconditionf("funding has no external reference to refund against")
		}
		return f.ChargeRefund(rec.ExternalRef), nil
	case funding.StrategyOffPlatform:
		return f.OffPlatform(rec.Note), nil
	case funding.StrategyFake:
		return f.ForRecord(StrategyRecord{Kind: StrategyFake})
	default:
		return nil, fmt.Errorf("%w: cannot refund a %q funding", payment.ErrUnsupportedMethod, rec.Kind)
	}
}

type offPlatformStrategy struct {
	rec StrategyRecord
}

func (s *offPlatformStrategy) Kind() StrategyKind     { return StrategyOffPlatform }
func (s *offPlatformStrategy) Record() StrategyRecord { return s.rec }

func (s *offPlatformStrategy) Label() string {
	if s.rec.Note != "" {
		return s.rec.Note
	}
	return "off platform"
}

func (s *offPlatformStrategy) CheckValidity() []string { return nil }

func (s *offPlatformStrategy) ReadyToSendFunds(context.Context, *Transaction) (bool, error) {
	return true, nil
}

func (s *offPlatformStrategy) SendFunds(context.Context, *Transaction) error { return nil }

func (s *offPlatformStrategy) FundsSettled(context.Context, *Transaction) (bool, error) {
	return true, nil
}

func (s *offPlatformStrategy) SendFailed(context.Context, *Transaction) (bool, error) {
	return false, nil
}

type chargeRefundStrategy struct {
	rec StrategyRecord
	gw  RefundGateway
}

func (s *chargeRefundStrategy) Kind() StrategyKind     { return StrategyChargeRefund }
func (s *chargeRefundStrategy) Record() StrategyRecord { return s.rec }
func (s *chargeRefundStrategy) Label() string          { return "refund of charge " + s.rec.ChargeRef }

func (s *chargeRefundStrategy) CheckValidity() []string {
	if s.rec.ChargeRef == "" {
		return []string{"a processor charge id is required"}
	}
	return nil
}

func (s *chargeRefundStrategy) ReadyToSendFunds(context.Context, *Transaction) (bool, error) {
	return true, nil
}

func (s *chargeRefundStrategy) SendFunds(ctx context.Context, t *Transaction) error {
	if s.rec.ExternalRef != "" {
		return nil
	}
	ref, err := s.gw.RefundCharge(ctx, s.rec.ChargeRef, t.Amount, t.Currency)
	if err != nil {
		return &payment.SendFundsFailedError{Msg: "charge refund failed", Cause: err}
	}
	s.rec.ExternalRef = ref
	return nil
}

func (s *chargeRefundStrategy) FundsSettled(ctx context.Context, _ *Transaction) (bool, error) {
	if s.rec.ExternalRef == "" {
		return false, nil
	}
	status, err := s.gw.RefundStatus(ctx, s.rec.ExternalRef)
	if err != nil {
		return false, err
	}
	return status == funding.TransferCleared, nil
}

func (s *chargeRefundStrategy) SendFailed(ctx context.Context, _ *Transaction) (bool, error) {
	if s.rec.ExternalRef == "" {
		return false, nil
	}
	status, err := s.gw.RefundStatus(ctx, s.rec.ExternalRef)
	if err != nil {
		return false, err
	}
	return status == funding.TransferCanceled, nil
}

// FakeStrategy is a scripted strategy for tests.
type FakeStrategy struct {
	Rec       StrategyRecord
	Problems  []string
	Ready     bool
	ReadyErr  error
	SendErr   error
	Settled   bool
	Failed    bool
	SendCalls int
}

// NewFakeStrategy returns a fake that is ready to send and never settles.
func NewFakeStrategy() *FakeStrategy {
	return &FakeStrategy{Rec: StrategyRecord{Kind: StrategyFake}, Ready: true}
}

func (s *FakeStrategy) Kind() StrategyKind     { return StrategyFake }
func (s *FakeStrategy) Record() StrategyRecord { return s.Rec }
func (s *FakeStrategy) Label() string          { return "fake" }

func (s *FakeStrategy) CheckValidity() []string { return s.Problems }

func (s *FakeStrategy) ReadyToSendFunds(context.Context, *Transaction) (bool, error) {
	return s.Ready, s.ReadyErr
}

func (s *FakeStrategy) SendFunds(context.Context, *Transaction) error {
	s.SendCalls++
	return s.SendErr
}

func (s *FakeStrategy) FundsSettled(context.Context, *Transaction) (bool, error) {
	return s.Settled, nil
}

func (s *FakeStrategy) SendFailed(context.Context, *Transaction) (bool, error) {
	return s.Failed, nil
}

// StaticRefundGateway approves every refund; for local development.
type StaticRefundGateway struct{}

func (StaticRefundGateway) RefundCharge(_ context.Context, _ string, _ int64, _ string) (string, error) {
	return "refund_" + uuid.NewString(), nil
}

func (StaticRefundGateway) RefundStatus(_ context.Context, _ string) (funding.TransferStatus, error) {
	return funding.TransferCleared, nil
}
