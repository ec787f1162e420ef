package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists accounts, ledgers and book transactions in
// PostgreSQL. Balances are derived with an indexed SUM over entries; see
// db/schema.sql for the uniqueness and check constraints this store relies
// on (single platform account, unique ledger names, distinct ledgers per
// book transaction).
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a Account) (Account, error) {
	if !a.validOwner() {
		return Account{}, ErrConflict
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO payment_accounts (id, member_id, vendor_id, is_platform_account, created_at)
        VALUES ($1, $2, $3, $4, $5)`,
		a.ID, nullableUUID(a.MemberID), nullableUUID(a.VendorID), a.IsPlatformAccount, a.CreatedAt)
	if isUniqueViolation(err) {
		return Account{}, ErrConflict
	}
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.scanAccount(s.db.QueryRow(ctx, `SELECT id, member_id, vendor_id, is_platform_account, created_at
        FROM payment_accounts WHERE id = $1`, id))
}

func (s *PostgresStore) FindPlatformAccount(ctx context.Context) (Account, bool, error) {
	a, err := s.scanAccount(s.db.QueryRow(ctx, `SELECT id, member_id, vendor_id, is_platform_account, created_at
        FROM payment_accounts WHERE is_platform_account`))
	if errors.Is(err, ErrNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return a, true, nil
}

func (s *PostgresStore) FindAccountForMember(ctx context.Context, memberID uuid.UUID) (Account, bool, error) {
	a, err := s.scanAccount(s.db.QueryRow(ctx, `SELECT id, member_id, vendor_id, is_platform_account, created_at
        FROM payment_accounts WHERE member_id = $1`, memberID))
	if errors.Is(err, ErrNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return a, true, nil
}

func (s *PostgresStore) FindAccountForVendor(ctx context.Context, vendorID uuid.UUID) (Account, bool, error) {
	a, err := s.scanAccount(s.db.QueryRow(ctx, `SELECT id, member_id, vendor_id, is_platform_account, created_at
        FROM payment_accounts WHERE vendor_id = $1`, vendorID))
	if errors.Is(err, ErrNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return a, true, nil
}

func (s *PostgresStore) CreateLedger(ctx context.Context, l Ledger) (Ledger, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Ledger{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	_, err = tx.Exec(ctx, `INSERT INTO payment_ledgers (id, account_id, currency, name, created_at)
        VALUES ($1, $2, $3, $4, $5)`, l.ID, l.AccountID, l.Currency, l.Name, l.CreatedAt)
	if isUniqueViolation(err) {
		return Ledger{}, ErrConflict
	}
	if err != nil {
		return Ledger{}, err
	}
	for _, catID := range l.CategoryIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO payment_ledger_categories (ledger_id, category_id)
            VALUES ($1, $2) ON CONFLICT DO NOTHING`, l.ID, catID); err != nil {
			return Ledger{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Ledger{}, err
	}
	return l, nil
}

func (s *PostgresStore) GetLedger(ctx context.Context, id uuid.UUID) (Ledger, error) {
	l, err := s.scanLedger(s.db.QueryRow(ctx, `SELECT id, account_id, currency, name, created_at
        FROM payment_ledgers WHERE id = $1`, id))
	if err != nil {
		return Ledger{}, err
	}
	if err := s.loadCategories(ctx, &l); err != nil {
		return Ledger{}, err
	}
	return l, nil
}

func (s *PostgresStore) LedgersForAccount(ctx context.Context, accountID uuid.UUID) ([]Ledger, error) {
	rows, err := s.db.Query(ctx, `SELECT id, account_id, currency, name, created_at
        FROM payment_ledgers WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Ledger
	for rows.Next() {
		l, err := s.scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadCategories(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) CreateBookTransaction(ctx context.Context, bt BookTransaction) (BookTransaction, error) {
	if bt.OpaqueID == "" {
		bt.OpaqueID = NewOpaqueID()
	}
	if bt.ID == uuid.Nil {
		bt.ID = uuid.New()
	}
	if bt.CreatedAt.IsZero() {
		bt.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return BookTransaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Lock both ledger rows so concurrent allocations cannot double-spend a
	// pending balance.
	originating, err := s.lockLedger(ctx, tx, bt.OriginatingLedgerID)
	if err != nil {
		return BookTransaction{}, err
	}
	receiving, err := s.lockLedger(ctx, tx, bt.ReceivingLedgerID)
	if err != nil {
		return BookTransaction{}, err
	}
	if err := validateBookTransaction(bt, originating, receiving); err != nil {
		return BookTransaction{}, err
	}

	var existingID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM payment_book_transactions WHERE opaque_id = $1`, bt.OpaqueID).Scan(&existingID)
	if err == nil {
		existing, gerr := s.GetBookTransaction(ctx, existingID)
		if gerr != nil {
			return BookTransaction{}, gerr
		}
		return existing, ErrDuplicateTransaction
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return BookTransaction{}, err
	}

	_, err = tx.Exec(ctx, `INSERT INTO payment_book_transactions
        (id, opaque_id, apply_at, originating_ledger_id, receiving_ledger_id, amount, currency, category_id, memo, actor_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		bt.ID, bt.OpaqueID, bt.ApplyAt.UTC(), bt.OriginatingLedgerID, bt.ReceivingLedgerID,
		bt.Amount, bt.Currency, nullableUUID(bt.CategoryID), bt.Memo, nullableUUID(bt.ActorID), bt.CreatedAt)
	if isUniqueViolation(err) {
		// Raced with another writer on the opaque id.
		existing, _, ferr := s.findByOpaqueID(ctx, bt.OpaqueID)
		if ferr != nil {
			return BookTransaction{}, ferr
		}
		return existing, ErrDuplicateTransaction
	}
	if err != nil {
		return BookTransaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return BookTransaction{}, err
	}
	return bt, nil
}

func (s *PostgresStore) GetBookTransaction(ctx context.Context, id uuid.UUID) (BookTransaction, error) {
	return s.scanBook(s.db.QueryRow(ctx, `SELECT id, opaque_id, apply_at, originating_ledger_id, receiving_ledger_id,
        amount, currency, category_id, memo, actor_id, created_at
        FROM payment_book_transactions WHERE id = $1`, id))
}

func (s *PostgresStore) Balance(ctx context.Context, ledgerID uuid.UUID) (int64, error) {
	const query = `
        SELECT COALESCE(SUM(CASE WHEN receiving_ledger_id = $1 THEN amount ELSE -amount END), 0)
        FROM payment_book_transactions
        WHERE receiving_ledger_id = $1 OR originating_ledger_id = $1`
	var balance int64
	if err := s.db.QueryRow(ctx, query, ledgerID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *PostgresStore) BalanceAsOf(ctx context.Context, ledgerID uuid.UUID, t time.Time) (int64, error) {
	const query = `
        SELECT COALESCE(SUM(CASE WHEN receiving_ledger_id = $1 THEN amount ELSE -amount END), 0)
        FROM payment_book_transactions
        WHERE (receiving_ledger_id = $1 OR originating_ledger_id = $1) AND apply_at <= $2`
	var balance int64
	if err := s.db.QueryRow(ctx, query, ledgerID, t.UTC()).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *PostgresStore) CombinedBookTransactions(ctx context.Context, ledgerID uuid.UUID) ([]BookTransaction, error) {
	rows, err := s.db.Query(ctx, `SELECT id, opaque_id, apply_at, originating_ledger_id, receiving_ledger_id,
        amount, currency, category_id, memo, actor_id, created_at
        FROM payment_book_transactions
        WHERE receiving_ledger_id = $1 OR originating_ledger_id = $1
        ORDER BY apply_at DESC, (originating_ledger_id = $1) DESC, created_at`, ledgerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BookTransaction
	for rows.Next() {
		bt, err := s.scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bt)
	}
	return out, rows.Err()
}

func (s *PostgresStore) lockLedger(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Ledger, error) {
	l, err := s.scanLedger(tx.QueryRow(ctx, `SELECT id, account_id, currency, name, created_at
        FROM payment_ledgers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Ledger{}, err
	}
	return l, nil
}

func (s *PostgresStore) loadCategories(ctx context.Context, l *Ledger) error {
	rows, err := s.db.Query(ctx, `SELECT category_id FROM payment_ledger_categories WHERE ledger_id = $1`, l.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		l.CategoryIDs = append(l.CategoryIDs, id)
	}
	return rows.Err()
}

func (s *PostgresStore) findByOpaqueID(ctx context.Context, opaqueID string) (BookTransaction, bool, error) {
	bt, err := s.scanBook(s.db.QueryRow(ctx, `SELECT id, opaque_id, apply_at, originating_ledger_id, receiving_ledger_id,
        amount, currency, category_id, memo, actor_id, created_at
        FROM payment_book_transactions WHERE opaque_id = $1`, opaqueID))
	if errors.Is(err, ErrNotFound) {
		return BookTransaction{}, false, nil
	}
	if err != nil {
		return BookTransaction{}, false, err
	}
	return bt, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanAccount(row rowScanner) (Account, error) {
	var a Account
	var member, vendor *uuid.UUID
	if err := row.Scan(&a.ID, &member, &vendor, &a.IsPlatformAccount, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	if member != nil {
		a.MemberID = *member
	}
	if vendor != nil {
		a.VendorID = *vendor
	}
	return a, nil
}

func (s *PostgresStore) scanLedger(row rowScanner) (Ledger, error) {
	var l Ledger
	if err := row.Scan(&l.ID, &l.AccountID, &l.Currency, &l.Name, &l.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ledger{}, ErrNotFound
		}
		return Ledger{}, err
	}
	return l, nil
}

func (s *PostgresStore) scanBook(row rowScanner) (BookTransaction, error) {
	var bt BookTransaction
	var category, actor *uuid.UUID
	if err := row.Scan(&bt.ID, &bt.OpaqueID, &bt.ApplyAt, &bt.OriginatingLedgerID, &bt.ReceivingLedgerID,
		&bt.Amount, &bt.Currency, &category, &bt.Memo, &actor, &bt.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BookTransaction{}, ErrNotFound
		}
		return BookTransaction{}, err
	}
	if category != nil {
		bt.CategoryID = *category
	}
	if actor != nil {
		bt.ActorID = *actor
	}
	return bt, nil
}

func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
