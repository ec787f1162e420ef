package funding

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/payment"
)

// InstrumentKind identifies how a member can move money onto the platform.
type InstrumentKind string

const (
	InstrumentBankAccount InstrumentKind = "bank_account"
	InstrumentCard        InstrumentKind = "card"
	InstrumentOffPlatform InstrumentKind = "off_platform"
)

// Instrument is a member's funding source as known at transaction creation:
// a registered bank account, a card on file, or an off-platform arrangement
// such as cash or a check.
type Instrument struct {
	ID         uuid.UUID
	Kind       InstrumentKind
	Label      string
	Registered bool // bank accounts must be verified before use
	Deleted    bool
}

// StrategyKind tags the closed set of collection strategies.
type StrategyKind string

const (
	StrategyACH         StrategyKind = "ach"
	StrategyCard        StrategyKind = "card"
	StrategyOffPlatform StrategyKind = "off_platform"
	StrategyFake        StrategyKind = "fake"
)

// StrategyRecord is the persisted form of a strategy: its kind plus the
// snapshot and external state it needs to be rehydrated by a later poller
// tick. Exactly one strategy record exists per transaction.
type StrategyRecord struct {
	Kind                 StrategyKind
	InstrumentID         uuid.UUID
	InstrumentLabel      string
	InstrumentRegistered bool
	ExternalRef          string
	Note                 string
}

// TransferStatus is a gateway's view of an external money movement.
type TransferStatus string

const (
	TransferPending  TransferStatus = "pending"
	TransferCleared  TransferStatus = "cleared"
	TransferCanceled TransferStatus = "canceled"
)

// AchGateway initiates and tracks ACH debits against a bank account.
type AchGateway interface {
	InitiateDebit(ctx context.Context, instrumentID uuid.UUID, amount int64, currency string) (ref string, err error)
	DebitStatus(ctx context.Context, ref string) (TransferStatus, error)
}

// CardGateway charges a card on file.
type CardGateway interface {
	Charge(ctx context.Context, instrumentID uuid.UUID, amount int64, currency string) (ref string, err error)
	ChargeStatus(ctx context.Context, ref string) (TransferStatus, error)
}

// Strategy is the pluggable collection behavior behind a funding
// transaction. Methods that talk to a gateway may block on the network;
// terminal failures are reported as *payment.CollectFundsFailedError, any
// other error is transient and retried on the next poller tick.
type Strategy interface {
	Kind() StrategyKind
	// Record returns the persistable state, including any external reference
	// acquired by CollectFunds.
	Record() StrategyRecord
	// CheckValidity returns human-readable problems; any problem blocks
	// transaction creation.
	CheckValidity() []string
	ReadyToCollectFunds(ctx context.Context, t *Transaction) (bool, error)
	// CollectFunds starts the external movement. Calling it again after a
	// successful start is a no-op.
	CollectFunds(ctx context.Context, t *Transaction) error
	FundsCleared(ctx context.Context, t *Transaction) (bool, error)
	FundsCanceled(ctx context.Context, t *Transaction) (bool, error)
	SupportsRefunds() bool
	OriginatingInstrumentLabel() string
}

// Strategies builds concrete strategies from instruments and rehydrates them
// from persisted records.
type Strategies struct {
	Ach  AchGateway
	Card CardGateway
	// Fake, when set, rehydrates fake-strategy records; tests use it to keep
	// scripted responses across poller ticks.
	Fake func(rec StrategyRecord) Strategy
}

// OffPlatform returns a strategy for funds collected outside the platform
// (cash, checks, manual settlements).
func (f *Strategies) OffPlatform(note string) Strategy {
	return &offPlatformStrategy{rec: StrategyRecord{Kind: StrategyOffPlatform, Note: note}}
}

// ForInstrument selects the strategy for a funding instrument.
func (f *Strategies) ForInstrument(inst Instrument) (Strategy, error) {
	rec := StrategyRecord{
		InstrumentID:         inst.ID,
		InstrumentLabel:      inst.Label,
		InstrumentRegistered: inst.Registered,
	}
	switch inst.Kind {
	case InstrumentBankAccount:
		rec.Kind = StrategyACH
		return &achStrategy{rec: rec, inst: &inst, gw: f.Ach}, nil
	case InstrumentCard:
		rec.Kind = StrategyCard
		return &cardStrategy{rec: rec, inst: &inst, gw: f.Card}, nil
	case InstrumentOffPlatform:
		rec.Kind = StrategyOffPlatform
		return &offPlatformStrategy{rec: rec}, nil
	default:
		return nil, fmt.Errorf("%w: instrument kind %q", payment.ErrStrategyUnavailable, inst.Kind)
	}
}

// ForRecord rehydrates a strategy from its persisted record.
func (f *Strategies) ForRecord(rec StrategyRecord) (Strategy, error) {
	switch rec.Kind {
	case StrategyACH:
		return &achStrategy{rec: rec, gw: f.Ach}, nil
	case StrategyCard:
		return &cardStrategy{rec: rec, gw: f.Card}, nil
	case StrategyOffPlatform:
		return &offPlatformStrategy{rec: rec}, nil
	case StrategyFake:
		if f.Fake != nil {
			return f.Fake(rec), nil
		}
		return &FakeStrategy{Rec: rec}, nil
	default:
		return nil, fmt.Errorf("%w: strategy kind %q", payment.ErrStrategyUnavailable, rec.Kind)
	}
}

type achStrategy struct {
	rec  StrategyRecord
	inst *Instrument // nil when rehydrated from a record
	gw   AchGateway
}

func (s *achStrategy) Kind() StrategyKind     { return StrategyACH }
func (s *achStrategy) Record() StrategyRecord { return s.rec }
func (s *achStrategy) SupportsRefunds() bool  { return true }

func (s *achStrategy) OriginatingInstrumentLabel() string { return s.rec.InstrumentLabel }

func (s *achStrategy) CheckValidity() []string {
	var problems []string
	if s.rec.InstrumentID == uuid.Nil {
		problems = append(problems, "bank account is required")
	}
	if s.inst != nil && s.inst.Deleted {
		problems = append(problems, "bank account has been deleted")
	}
	return problems
}

// ReadyToCollectFunds waits for bank account verification; unverified
// accounts park the transaction at created until a later tick.
func (s *achStrategy) ReadyToCollectFunds(context.Context, *Transaction) (bool, error) {
	return s.rec.InstrumentRegistered, nil
}

func (s *achStrategy) CollectFunds(ctx context.Context, t *Transaction) error {
	if s.rec.ExternalRef != "" {
		return nil
	}
	ref, err := s.gw.InitiateDebit(ctx, s.rec.InstrumentID, t.Amount, t.Currency)
	if err != nil {
		return &payment.CollectFundsFailedError{Msg: "ach debit could not be initiated", Cause: err}
	}
	s.rec.ExternalRef = ref
	return nil
}

func (s *achStrategy) FundsCleared(ctx context.Context, _ *Transaction) (bool, error) {
	if s.rec.ExternalRef == "" {
		return false, nil
	}
	status, err := s.gw.DebitStatus(ctx, s.rec.ExternalRef)
	if err != nil {
		return false, err
	}
	return status == TransferCleared, nil
}

func (s *achStrategy) FundsCanceled(ctx context.Context, _ *Transaction) (bool, error) {
	if s.rec.ExternalRef == "" {
		return false, nil
	}
	status, err := s.gw.DebitStatus(ctx, s.rec.ExternalRef)
	if err != nil {
		return false, err
	}
	return status == TransferCanceled, nil
}

type cardStrategy struct {
	rec  StrategyRecord
	inst *Instrument
	gw   CardGateway
}

func (s *cardStrategy) Kind() StrategyKind     { return StrategyCard }
func (s *cardStrategy) Record() StrategyRecord { return s.rec }
func (s *cardStrategy) SupportsRefunds() bool  { return true }

func (s *cardStrategy) OriginatingInstrumentLabel() string { return s.rec.InstrumentLabel }

func (s *cardStrategy) CheckValidity() []string {
	var problems []string
	if s.rec.InstrumentID == uuid.Nil {
		problems = append(problems, "card is required")
	}
	if s.inst != nil && s.inst.Deleted {
		problems = append(problems, "card has been deleted")
	}
	return problems
}

func (s *cardStrategy) ReadyToCollectFunds(context.Context, *Transaction) (bool, error) {
	return true, nil
}

func (s *cardStrategy) CollectFunds(ctx context.Context, t *Transaction) error {
	if s.rec.ExternalRef != "" {
		return nil
	}
	ref, err := s.gw.Charge(ctx, s.rec.InstrumentID, t.Amount, t.Currency)
	if err != nil {
		return &payment.CollectFundsFailedError{Msg: "card charge failed", Cause: err}
	}
	s.rec.ExternalRef = ref
	return nil
}

func (s *cardStrategy) FundsCleared(ctx context.Context, _ *Transaction) (bool, error) {
	if s.rec.ExternalRef == "" {
		return false, nil
	}
	status, err := s.gw.ChargeStatus(ctx, s.rec.ExternalRef)
	if err != nil {
		return false, err
	}
	return status == TransferCleared, nil
}

func (s *cardStrategy) FundsCanceled(ctx context.Context, _ *Transaction) (bool, error) {
	if s.rec.ExternalRef == "" {
		return false, nil
	}
	status, err := s.gw.ChargeStatus(ctx, s.rec.ExternalRef)
	if err != nil {
		return false, err
	}
	return status == TransferCanceled, nil
}

// offPlatformStrategy records money movements that happen outside the
// platform (cash, checks, manual settlements). Collection is immediate: an
// operator creating the transaction asserts the funds exist.
type offPlatformStrategy struct {
	rec StrategyRecord
}

func (s *offPlatformStrategy) Kind() StrategyKind     { return StrategyOffPlatform }
func (s *offPlatformStrategy) Record() StrategyRecord { return s.rec }
func (s *offPlatformStrategy) SupportsRefunds() bool  { return false }

func (s *offPlatformStrategy) OriginatingInstrumentLabel() string {
	if s.rec.Note != "" {
		return s.rec.Note
	}
	return "off platform"
}

func (s *offPlatformStrategy) CheckValidity() []string { return nil }

func (s *offPlatformStrategy) ReadyToCollectFunds(context.Context, *Transaction) (bool, error) {
	return true, nil
}

func (s *offPlatformStrategy) CollectFunds(context.Context, *Transaction) error { return nil }

func (s *offPlatformStrategy) FundsCleared(context.Context, *Transaction) (bool, error) {
	return true, nil
}

func (s *offPlatformStrategy) FundsCanceled(context.Context, *Transaction) (bool, error) {
	return false, nil
}

// FakeStrategy is a scripted strategy for tests: each response is set
// directly on the struct.
type FakeStrategy struct {
	Rec          StrategyRecord
	Problems     []string
	Ready        bool
	ReadyErr     error
	CollectErr   error
	Cleared      bool
	ClearedErr   error
	Canceled     bool
	Refundable   bool
	CollectCalls int
}

// NewFakeStrategy returns a fake that is ready to collect and never clears.
func NewFakeStrategy() *FakeStrategy {
	return &FakeStrategy{Rec: StrategyRecord{Kind: StrategyFake, InstrumentLabel: "fake"}, Ready: true}
}

func (s *FakeStrategy) Kind() StrategyKind     { return StrategyFake }
func (s *FakeStrategy) Record() StrategyRecord { return s.Rec }
func (s *FakeStrategy) SupportsRefunds() bool  { return s.Refundable }

func (s *FakeStrategy) OriginatingInstrumentLabel() string { return s.Rec.InstrumentLabel }

func (s *FakeStrategy) CheckValidity() []string { return s.Problems }

func (s *FakeStrategy) ReadyToCollectFunds(context.Context, *Transaction) (bool, error) {
	return s.Ready, s.ReadyErr
}

func (s *FakeStrategy) CollectFunds(context.Context, *Transaction) error {
	s.CollectCalls++
	return s.CollectErr
}

func (s *FakeStrategy) FundsCleared(context.Context, *Transaction) (bool, error) {
	return s.Cleared, s.ClearedErr
}

func (s *FakeStrategy) FundsCanceled(context.Context, *Transaction) (bool, error) {
	return s.Canceled, nil
}

// StaticAchGateway approves every debit and reports it cleared; for local
// development without a bank integration.
type StaticAchGateway struct{}

func (StaticAchGateway) InitiateDebit(_ context.Context, _ uuid.UUID, _ int64, _ string) (string, error) {
	return "ach_" + uuid.NewString(), nil
}

func (StaticAchGateway) DebitStatus(_ context.Context, _ string) (TransferStatus, error) {
	return TransferCleared, nil
}

// StaticCardGateway approves every charge; for local development.
type StaticCardGateway struct{}

func (StaticCardGateway) Charge(_ context.Context, _ uuid.UUID, _ int64, _ string) (string, error) {
	return "card_" + uuid.NewString(), nil
}

func (StaticCardGateway) ChargeStatus(_ context.Context, _ string) (TransferStatus, error) {
	return TransferCleared, nil
}
