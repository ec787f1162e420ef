// Package trigger implements the subsidy engine: rules that match member
// spending with funds from a platform ledger, up to a cumulative cap per
// trigger and receiving ledger.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/ledger"
)

// ErrNotFound is returned when a trigger does not exist.
var ErrNotFound = errors.New("trigger not found")

// Trigger is a subsidy rule. While active, spending gathered against a member
// account is matched with MatchMultiplier×(1−PayerFraction) of its amount,
// moved from the originating ledger into a ledger named ReceivingLedgerName
// on the member's account, until MaximumCumulativeSubsidy has been granted
// to that receiving ledger.
type Trigger struct {
	ID                       uuid.UUID
	Label                    string
	OriginatingLedgerID      uuid.UUID
	ReceivingLedgerName      string
	MatchMultiplier          float64
	PayerFraction            float64
	MaximumCumulativeSubsidy int64
	ActiveAt                 time.Time
	ActiveUntil              time.Time
	ProgramID                uuid.UUID
	CreatedAt                time.Time
}

// ActiveDuring reports whether t falls inside the trigger's active window.
// The window is half-open: active at ActiveAt, inactive at ActiveUntil.
func (t Trigger) ActiveDuring(at time.Time) bool {
	return !at.Before(t.ActiveAt) && at.Before(t.ActiveUntil)
}

// Subdivide splits the trigger into n sequential triggers of unit duration
// each, starting at the original ActiveAt. The cumulative cap is divided
// evenly, with any remainder going to the earliest slices. The receiver is
// not modified; callers persist the returned triggers and retire the
// original. A non-positive unit divides the original window evenly instead.
func (t Trigger) Subdivide(n int, unit time.Duration) ([]Trigger, error) {
	if n < 2 {
		return nil, fmt.Errorf("subdivide requires at least 2 slices, got %d", n)
	}
	if unit <= 0 {
		unit = t.ActiveUntil.Sub(t.ActiveAt) / time.Duration(n)
	}
	if unit <= 0 {
		return nil, fmt.Errorf("trigger %s has no active window to subdivide", t.ID)
	}
	share := t.MaximumCumulativeSubsidy / int64(n)
	extra := t.MaximumCumulativeSubsidy % int64(n)
	out := make([]Trigger, 0, n)
	for i := 0; i < n; i++ {
		sub := t
		sub.ID = uuid.Nil
		sub.Label = fmt.Sprintf("%s (%d/%d)", t.Label, i+1, n)
		sub.ActiveAt = t.ActiveAt.Add(time.Duration(i) * unit)
		sub.ActiveUntil = sub.ActiveAt.Add(unit)
		sub.MaximumCumulativeSubsidy = share
		if int64(i) < extra {
			sub.MaximumCumulativeSubsidy++
		}
		out = append(out, sub)
	}
	return out, nil
}

// EnsureReceivingLedger returns the account's ledger named after the
// trigger's receiving ledger name, creating it on first need with the
// originating ledger's categories so allocation treats subsidy funds the
// same as the funds they were matched from.
func (t Trigger) EnsureReceivingLedger(ctx context.Context, svc *ledger.Service, account ledger.Account) (ledger.Ledger, error) {
	find := func() (ledger.Ledger, bool, error) {
		ledgers, err := svc.Store().LedgersForAccount(ctx, account.ID)
		if err != nil {
			return ledger.Ledger{}, false, err
		}
		for _, l := range ledgers {
			if l.Name == t.ReceivingLedgerName {
				return l, true, nil
			}
		}
		return ledger.Ledger{}, false, nil
	}
	if l, ok, err := find(); err != nil || ok {
		return l, err
	}
	originating, err := svc.Store().GetLedger(ctx, t.OriginatingLedgerID)
	if err != nil {
		return ledger.Ledger{}, err
	}
	l, err := svc.Store().CreateLedger(ctx, ledger.Ledger{
		AccountID:   account.ID,
		Currency:    originating.Currency,
		Name:        t.ReceivingLedgerName,
		CategoryIDs: append([]uuid.UUID(nil), originating.CategoryIDs...),
	})
	if errors.Is(err, ledger.ErrConflict) {
		existing, ok, ferr := find()
		if ferr != nil {
			return ledger.Ledger{}, ferr
		}
		if ok {
			return existing, nil
		}
	}
	return l, err
}

// Execution records one subsidy grant: the book transaction a trigger
// produced. ReceivingLedgerID and Amount are denormalized from the book
// transaction so cumulative-subsidy queries need no join.
type Execution struct {
	ID                uuid.UUID
	TriggerID         uuid.UUID
	BookTransactionID uuid.UUID
	ReceivingLedgerID uuid.UUID
	Amount            int64
	CreatedAt         time.Time
}

// Store persists triggers and their executions.
type Store interface {
	Create(ctx context.Context, t Trigger) (Trigger, error)
	Get(ctx context.Context, id uuid.UUID) (Trigger, error)
	Update(ctx context.Context, t Trigger) (Trigger, error)
	// ActiveAt returns triggers whose window contains at, in creation order.
	ActiveAt(ctx context.Context, at time.Time) ([]Trigger, error)
	CreateExecution(ctx context.Context, e Execution) (Execution, error)
	// ExecutedAmount sums the amounts of the trigger's executions whose
	// receiving ledger is one of ledgerIDs.
	ExecutedAmount(ctx context.Context, triggerID uuid.UUID, ledgerIDs []uuid.UUID) (int64, error)
}

// Enrollment answers whether a member is enrolled in a program at a point in
// time. Triggers without a program never consult it.
type Enrollment interface {
	Enrolled(ctx context.Context, memberID, programID uuid.UUID, asOf time.Time) (bool, error)
}

// AllowAll is an Enrollment that admits every member to every program.
type AllowAll struct{}

// Enrolled always reports true.
func (AllowAll) Enrolled(context.Context, uuid.UUID, uuid.UUID, time.Time) (bool, error) {
	return true, nil
}
