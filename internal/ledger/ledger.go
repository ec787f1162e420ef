// Package ledger implements the double-entry bookkeeping core: Accounts own
// currency-scoped Ledgers, and immutable BookTransactions move fixed amounts
// between exactly two Ledgers. A Ledger's balance is never stored; it is
// always derived as received minus originated over all committed
// BookTransactions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness violation (duplicate platform
	// account, duplicate ledger name, ...). Surfaced to the caller, never
	// retried automatically.
	ErrConflict = errors.New("conflict")

	// ErrDuplicateTransaction indicates a book transaction with the provided
	// opaque id already exists and the operation should be treated as
	// idempotent. The existing row is returned alongside this error.
	ErrDuplicateTransaction = errors.New("duplicate book transaction")

	// ErrSameLedger rejects a book transaction whose originating and
	// receiving ledgers are the same. Also enforced by a storage check
	// constraint, since concurrent writers could race past this check.
	ErrSameLedger = errors.New("originating and receiving ledgers cannot be the same")
)

// Account owns a set of ledgers. Exactly one of member, vendor, or the
// platform flag identifies it. Accounts are created lazily and never deleted.
type Account struct {
	ID                uuid.UUID
	MemberID          uuid.UUID // uuid.Nil when not a member account
	VendorID          uuid.UUID // uuid.Nil when not a vendor account
	IsPlatformAccount bool
	CreatedAt         time.Time
}

// Platform reports whether this is the platform-wide account.
func (a Account) Platform() bool { return a.IsPlatformAccount }

func (a Account) validOwner() bool {
	member := a.MemberID != uuid.Nil
	vendor := a.VendorID != uuid.Nil
	if a.IsPlatformAccount {
		return !member && !vendor
	}
	return member != vendor
}

// Ledger is a named, currency-scoped sub-balance of an Account, tagged with
// zero or more vendor-service categories. A ledger with no categories can
// receive but cannot purchase.
type Ledger struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Currency    string
	Name        string
	CategoryIDs []uuid.UUID
	CreatedAt   time.Time
}

// HasCategory reports whether the ledger is tagged with the given category.
func (l Ledger) HasCategory(id uuid.UUID) bool {
	for _, c := range l.CategoryIDs {
		if c == id {
			return true
		}
	}
	return false
}

// BookTransaction is an atomic, immutable internal transfer between two
// ledgers. OpaqueID is unique; callers that need idempotent creation use a
// deterministic opaque id and treat ErrDuplicateTransaction as success.
type BookTransaction struct {
	ID                  uuid.UUID
	OpaqueID            string
	ApplyAt             time.Time
	OriginatingLedgerID uuid.UUID
	ReceivingLedgerID   uuid.UUID
	Amount              int64 // minor currency units, always positive
	Currency            string
	CategoryID          uuid.UUID // associated vendor-service category, may be Nil
	Memo                string
	ActorID             uuid.UUID // request user/admin, Nil for backend processes
	CreatedAt           time.Time
}

// NewOpaqueID returns a fresh opaque id for a book transaction.
func NewOpaqueID() string { return "bx_" + uuid.NewString() }

// Directed is a read-only projection of a book transaction relative to one of
// its ledgers: negative from the originating side, positive from the
// receiving side. Directed values are never persisted; the store only accepts
// BookTransaction rows.
type Directed struct {
	BookTransaction
	SignedAmount int64
}

// DirectedTo projects the transaction relative to the given ledger.
func (bt BookTransaction) DirectedTo(ledgerID uuid.UUID) (Directed, error) {
	switch ledgerID {
	case bt.OriginatingLedgerID:
		return Directed{BookTransaction: bt, SignedAmount: -bt.Amount}, nil
	case bt.ReceivingLedgerID:
		return Directed{BookTransaction: bt, SignedAmount: bt.Amount}, nil
	default:
		return Directed{}, fmt.Errorf("ledger %s is not associated with book transaction %s", ledgerID, bt.ID)
	}
}

// Store defines the contract implemented by ledger backends (e.g. Postgres).
// Implementations must reject equal originating/receiving ledgers and
// duplicate opaque ids at the storage layer.
type Store interface {
	CreateAccount(ctx context.Context, a Account) (Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	FindPlatformAccount(ctx context.Context) (Account, bool, error)
	FindAccountForMember(ctx context.Context, memberID uuid.UUID) (Account, bool, error)
	FindAccountForVendor(ctx context.Context, vendorID uuid.UUID) (Account, bool, error)

	CreateLedger(ctx context.Context, l Ledger) (Ledger, error)
	GetLedger(ctx context.Context, id uuid.UUID) (Ledger, error)
	// LedgersForAccount returns the account's ledgers in creation order,
	// which keeps charge allocation deterministic.
	LedgersForAccount(ctx context.Context, accountID uuid.UUID) ([]Ledger, error)

	CreateBookTransaction(ctx context.Context, bt BookTransaction) (BookTransaction, error)
	GetBookTransaction(ctx context.Context, id uuid.UUID) (BookTransaction, error)
	// Balance returns received minus originated over all transactions.
	Balance(ctx context.Context, ledgerID uuid.UUID) (int64, error)
	// BalanceAsOf only counts transactions with apply_at at or before t.
	BalanceAsOf(ctx context.Context, ledgerID uuid.UUID, t time.Time) (int64, error)
	// CombinedBookTransactions lists both-sided transactions for a ledger,
	// ordered by apply_at descending, originating side first on ties.
	CombinedBookTransactions(ctx context.Context, ledgerID uuid.UUID) ([]BookTransaction, error)
}

func validateBookTransaction(bt BookTransaction, originating, receiving Ledger) error {
	if bt.Amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", bt.Amount)
	}
	if bt.OriginatingLedgerID == bt.ReceivingLedgerID {
		return ErrSameLedger
	}
	if bt.Currency != originating.Currency || bt.Currency != receiving.Currency {
		return fmt.Errorf("currency %q does not match ledgers (%q, %q)",
			bt.Currency, originating.Currency, receiving.Currency)
	}
	if bt.ApplyAt.IsZero() {
		return fmt.Errorf("apply_at is required")
	}
	return nil
}
