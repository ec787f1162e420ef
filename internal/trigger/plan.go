package trigger

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/ledger"
)

// Service evaluates triggers against member accounts and executes the
// resulting funding plans.
type Service struct {
	store   Store
	ledgers *ledger.Service
	enroll  Enrollment
}

// NewService builds a trigger service. A nil enrollment admits everyone.
func NewService(store Store, ledgers *ledger.Service, enroll Enrollment) *Service {
	if enroll == nil {
		enroll = AllowAll{}
	}
	return &Service{store: store, ledgers: ledgers, enroll: enroll}
}

// Store returns the backing trigger store.
func (s *Service) Store() Store { return s.store }

// Gather returns the triggers applicable to the account at activeAsOf: those
// whose active window contains the time and whose program, if any, the
// account's member is enrolled in.
func (s *Service) Gather(ctx context.Context, account ledger.Account, activeAsOf time.Time) (*Collection, error) {
	active, err := s.store.ActiveAt(ctx, activeAsOf)
	if err != nil {
		return nil, err
	}
	matched := make([]Trigger, 0, len(active))
	for _, t := range active {
		if t.ProgramID != uuid.Nil {
			ok, err := s.enroll.Enrolled(ctx, account.MemberID, t.ProgramID, activeAsOf)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, t)
	}
	return &Collection{svc: s, account: account, Triggers: matched}, nil
}

// Collection is the set of triggers gathered for one account.
type Collection struct {
	svc      *Service
	account  ledger.Account
	Triggers []Trigger
}

// Step is one trigger's planned subsidy: the resolved receiving ledger and
// the amount to grant. A zero amount means the trigger's cap is exhausted or
// the match rounded to nothing; such steps are kept so callers can see every
// trigger that was considered.
type Step struct {
	Trigger         Trigger
	ReceivingLedger ledger.Ledger
	Amount          int64
}

// Plan is an executable set of subsidy steps.
type Plan struct {
	svc     *Service
	account ledger.Account
	Steps   []Step
}

// FundingPlan plans one step per gathered trigger for a spend of amount:
// planned = amount × multiplier × (1 − payer fraction), rounded half-up,
// then capped so cumulative executed subsidy for the trigger's receiving
// ledger never exceeds the trigger's maximum. Receiving ledgers are resolved
// (find-or-create) here so the caller can simulate the plan's credits before
// executing it.
func (c *Collection) FundingPlan(ctx context.Context, amount int64) (*Plan, error) {
	plan := &Plan{svc: c.svc, account: c.account, Steps: make([]Step, 0, len(c.Triggers))}
	for _, t := range c.Triggers {
		receiving, err := t.EnsureReceivingLedger(ctx, c.svc.ledgers, c.account)
		if err != nil {
			return nil, err
		}
		planned := roundHalfUp(float64(amount) * t.MatchMultiplier * (1 - t.PayerFraction))
		executed, err := c.svc.store.ExecutedAmount(ctx, t.ID, []uuid.UUID{receiving.ID})
		if err != nil {
			return nil, err
		}
		if cap := t.MaximumCumulativeSubsidy - executed; planned > cap {
			planned = cap
		}
		if planned < 0 {
			planned = 0
		}
		plan.Steps = append(plan.Steps, Step{Trigger: t, ReceivingLedger: receiving, Amount: planned})
	}
	return plan, nil
}

// Execute originates the planned subsidies whose receiving ledger is in
// ledgerIDs, recording an Execution per book transaction. Callers opt in
// per-ledger so execution can be scoped to the ledgers a purchase actually
// touched. Zero-amount steps are skipped.
func (p *Plan) Execute(ctx context.Context, ledgerIDs []uuid.UUID, at time.Time, actorID uuid.UUID) ([]Execution, error) {
	allowed := make(map[uuid.UUID]bool, len(ledgerIDs))
	for _, id := range ledgerIDs {
		allowed[id] = true
	}
	var out []Execution
	for _, step := range p.Steps {
		if step.Amount <= 0 || !allowed[step.ReceivingLedger.ID] {
			continue
		}
		var categoryID uuid.UUID
		if len(step.ReceivingLedger.CategoryIDs) > 0 {
			categoryID = step.ReceivingLedger.CategoryIDs[0]
		}
		bt, err := p.svc.ledgers.Store().CreateBookTransaction(ctx, ledger.BookTransaction{
			ApplyAt:             at,
			OriginatingLedgerID: step.Trigger.OriginatingLedgerID,
			ReceivingLedgerID:   step.ReceivingLedger.ID,
			Amount:              step.Amount,
			Currency:            step.ReceivingLedger.Currency,
			CategoryID:          categoryID,
			Memo:                "Subsidy: " + step.Trigger.Label,
			ActorID:             actorID,
		})
		if err != nil {
			return nil, err
		}
		exec, err := p.svc.store.CreateExecution(ctx, Execution{
			TriggerID:         step.Trigger.ID,
			BookTransactionID: bt.ID,
			ReceivingLedgerID: step.ReceivingLedger.ID,
			Amount:            step.Amount,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

// SubdivideTrigger splits the trigger into n persisted slices of unit
// duration and retires the original by closing its active window.
func (s *Service) SubdivideTrigger(ctx context.Context, id uuid.UUID, n int, unit time.Duration) ([]Trigger, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	subs, err := t.Subdivide(n, unit)
	if err != nil {
		return nil, err
	}
	created := make([]Trigger, 0, len(subs))
	for _, sub := range subs {
		c, err := s.store.Create(ctx, sub)
		if err != nil {
			return nil, err
		}
		created = append(created, c)
	}
	t.ActiveUntil = t.ActiveAt
	if _, err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	return created, nil
}

// roundHalfUp rounds to the nearest minor unit, ties away from zero toward
// positive infinity.
func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
