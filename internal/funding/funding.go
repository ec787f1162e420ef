// Package funding moves external money onto the platform: a funding
// transaction pulls funds from a member's instrument (bank account, card, or
// an off-platform arrangement) and, once collection begins, originates a
// single book transaction from the platform cash ledger into the member's
// cash ledger.
package funding

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/payment"
)

// ErrNotFound is returned when a funding transaction does not exist.
var ErrNotFound = errors.New("funding transaction not found")

// Status is a funding transaction's position in its state machine.
type Status string

const (
	StatusCreated     Status = "created"
	StatusCollecting  Status = "collecting"
	StatusCleared     Status = "cleared"
	StatusNeedsReview Status = "needs_review"
	StatusCanceled    Status = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusCleared || s == StatusCanceled }

// Event drives the state machine.
type Event string

const (
	EventCollectFunds  Event = "collect_funds"
	EventCancel        Event = "cancel"
	EventPutIntoReview Event = "put_into_review"
)

// Transaction is one attempt to collect an amount from a member's instrument
// into their cash ledger. OriginatedBookTransactionID is set exactly once, on
// first entry to collecting; ReversalBookTransactionID is set when a cancel
// reverses it. Neither book transaction is ever deleted.
type Transaction struct {
	ID                          uuid.UUID
	Status                      Status
	Amount                      int64
	Currency                    string
	AccountID                   uuid.UUID
	PlatformLedgerID            uuid.UUID
	MemberLedgerID              uuid.UUID
	OriginatedBookTransactionID uuid.UUID
	ReversalBookTransactionID   uuid.UUID
	Memo                        string
	Strategy                    StrategyRecord
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// Store persists funding transactions and their audit trail.
type Store interface {
	Create(ctx context.Context, t Transaction) (Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (Transaction, error)
	Update(ctx context.Context, t Transaction) (Transaction, error)
	ListForAccount(ctx context.Context, accountID uuid.UUID) ([]Transaction, error)
	// ListInStatus returns transactions in any of the given statuses, oldest
	// first, so pollers drive the backlog in order.
	ListInStatus(ctx context.Context, statuses ...Status) ([]Transaction, error)

	AppendAudit(ctx context.Context, a payment.AuditLog) error
	Audits(ctx context.Context, transactionID uuid.UUID) ([]payment.AuditLog, error)
}
