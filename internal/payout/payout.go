// Package payout moves money off the platform: a payout transaction sends
// funds from the platform to an external destination, optionally crediting
// the member instantly while the external transfer is still in flight.
package payout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/payment"
)

// ErrNotFound is returned when a payout transaction does not exist.
var ErrNotFound = errors.New("payout transaction not found")

// ErrUnknownClassification rejects writing a transaction whose book
// transaction references form no valid classification (a refund reference
// with neither an originated nor a crediting book transaction). Reads
// tolerate such rows so operators can inspect historic anomalies.
var ErrUnknownClassification = errors.New("payout transaction references form no valid classification")

// Status is a payout transaction's position in its state machine.
type Status string

const (
	StatusCreated     Status = "created"
	StatusSending     Status = "sending"
	StatusSettled     Status = "settled"
	StatusNeedsReview Status = "needs_review"
	StatusCanceled    Status = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusSettled || s == StatusCanceled }

// Event drives the state machine.
type Event string

const (
	EventSendFunds     Event = "send_funds"
	EventCancel        Event = "cancel"
	EventPutIntoReview Event = "put_into_review"
)

// Classification categorizes a payout by which book transaction references
// it carries.
type Classification string

const (
	// ClassRefund is a member refund: instant credit, platform debit, and a
	// reference to the funding being refunded.
	ClassRefund Classification = "refund"
	// ClassReversal undoes a funding without crediting the member first.
	ClassReversal Classification = "reversal"
	// ClassPayout pays a member or vendor out of their ledger balance.
	ClassPayout Classification = "payout"
	// ClassPlatformPayout moves platform money externally with no member
	// ledger involvement.
	ClassPlatformPayout Classification = "platformpayout"
	// ClassUnknown is a data anomaly, never written by this package.
	ClassUnknown Classification = "unknown"
)

// Transaction is one attempt to send an amount from the platform to an
// external destination. The originated book transaction (member cash to
// platform cash) and the optional crediting one (platform cash to member
// cash, applied just before it) are deliberately separate rows, so a
// member's balance shows an instant refund while the external transfer is
// still in flight.
type Transaction struct {
	ID                           uuid.UUID
	Status                       Status
	Amount                       int64
	Currency                     string
	AccountID                    uuid.UUID
	PlatformLedgerID             uuid.UUID
	MemberLedgerID               uuid.UUID
	OriginatedBookTransactionID  uuid.UUID
	CreditingBookTransactionID   uuid.UUID
	ReversalBookTransactionID    uuid.UUID
	RefundedFundingTransactionID uuid.UUID
	Memo                         string
	Strategy                     StrategyRecord
	CreatedAt                    time.Time
	UpdatedAt                    time.Time
}

// Classification derives the payout's kind from which references are set.
func (t Transaction) Classification() Classification {
	originated := t.OriginatedBookTransactionID != uuid.Nil
	crediting := t.CreditingBookTransactionID != uuid.Nil
	refund := t.RefundedFundingTransactionID != uuid.Nil
	switch {
	case originated && crediting && refund:
		return ClassRefund
	case originated && refund:
		return ClassReversal
	case originated && !crediting:
		return ClassPayout
	case !originated && !crediting && !refund:
		return ClassPlatformPayout
	default:
		return ClassUnknown
	}
}

// Store persists payout transactions and their audit trail. Implementations
// reject creates and updates whose Classification is unknown.
type Store interface {
	Create(ctx context.Context, t Transaction) (Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (Transaction, error)
	Update(ctx context.Context, t Transaction) (Transaction, error)
	ListForAccount(ctx context.Context, accountID uuid.UUID) ([]Transaction, error)
	ListInStatus(ctx context.Context, statuses ...Status) ([]Transaction, error)
	// RefundedAmountForFunding sums payout amounts referencing the funding
	// transaction, feeding the refundable-amount cap.
	RefundedAmountForFunding(ctx context.Context, fundingID uuid.UUID) (int64, error)

	AppendAudit(ctx context.Context, a payment.AuditLog) error
	Audits(ctx context.Context, transactionID uuid.UUID) ([]payment.AuditLog, error)
}
