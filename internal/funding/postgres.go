package funding

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makala-pay/makala_pay/internal/payment"
)

// PostgresStore persists funding transactions in PostgreSQL. The strategy
// record is flattened into columns; db/schema.sql constrains each row to
// exactly one strategy kind.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed funding store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const fundingColumns = `id, status, amount, currency, account_id, platform_ledger_id, member_ledger_id,
    originated_book_transaction_id, reversal_book_transaction_id, memo,
    strategy_kind, strategy_instrument_id, strategy_instrument_label, strategy_instrument_registered,
    strategy_external_ref, strategy_note, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, t Transaction) (Transaction, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.db.Exec(ctx, `INSERT INTO payment_funding_transactions (`+fundingColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		t.ID, t.Status, t.Amount, t.Currency, t.AccountID, t.PlatformLedgerID, t.MemberLedgerID,
		nullableUUID(t.OriginatedBookTransactionID), nullableUUID(t.ReversalBookTransactionID), t.Memo,
		t.Strategy.Kind, nullableUUID(t.Strategy.InstrumentID), t.Strategy.InstrumentLabel,
		t.Strategy.InstrumentRegistered, t.Strategy.ExternalRef, t.Strategy.Note,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return s.scan(s.db.QueryRow(ctx, `SELECT `+fundingColumns+`
        FROM payment_funding_transactions WHERE id = $1`, id))
}

func (s *PostgresStore) Update(ctx context.Context, t Transaction) (Transaction, error) {
	t.UpdatedAt = time.Now().UTC()
	tag, err := s.db.Exec(ctx, `UPDATE payment_funding_transactions SET
        status = $2, originated_book_transaction_id = $3, reversal_book_transaction_id = $4,
        strategy_external_ref = $5, strategy_note = $6, updated_at = $7
        WHERE id = $1`,
		t.ID, t.Status, nullableUUID(t.OriginatedBookTransactionID),
		nullableUUID(t.ReversalBookTransactionID), t.Strategy.ExternalRef, t.Strategy.Note, t.UpdatedAt)
	if err != nil {
		return Transaction{}, err
	}
	if tag.RowsAffected() == 0 {
		return Transaction{}, ErrNotFound
	}
	return t, nil
}

func (s *PostgresStore) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+fundingColumns+`
        FROM payment_funding_transactions WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	return s.collectRows(rows)
}

func (s *PostgresStore) ListInStatus(ctx context.Context, statuses ...Status) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+fundingColumns+`
        FROM payment_funding_transactions WHERE status = ANY($1) ORDER BY created_at, id`, statuses)
	if err != nil {
		return nil, err
	}
	return s.collectRows(rows)
}

func (s *PostgresStore) AppendAudit(ctx context.Context, a payment.AuditLog) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO payment_funding_transaction_audit_logs
        (id, transaction_id, at, event, from_status, to_status, message, reason, actor_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.TransactionID, a.At.UTC(), a.Event, a.FromStatus, a.ToStatus, a.Message, a.Reason,
		nullableUUID(a.ActorID))
	return err
}

func (s *PostgresStore) Audits(ctx context.Context, transactionID uuid.UUID) ([]payment.AuditLog, error) {
	rows, err := s.db.Query(ctx, `SELECT id, transaction_id, at, event, from_status, to_status, message, reason, actor_id
        FROM payment_funding_transaction_audit_logs WHERE transaction_id = $1 ORDER BY at, id`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []payment.AuditLog
	for rows.Next() {
		var a payment.AuditLog
		var actor *uuid.UUID
		if err := rows.Scan(&a.ID, &a.TransactionID, &a.At, &a.Event, &a.FromStatus, &a.ToStatus,
			&a.Message, &a.Reason, &actor); err != nil {
			return nil, err
		}
		if actor != nil {
			a.ActorID = *actor
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) collectRows(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scan(row rowScanner) (Transaction, error) {
	var t Transaction
	var originated, reversal, instrument *uuid.UUID
	if err := row.Scan(&t.ID, &t.Status, &t.Amount, &t.Currency, &t.AccountID,
		&t.PlatformLedgerID, &t.MemberLedgerID, &originated, &reversal, &t.Memo,
		&t.Strategy.Kind, &instrument, &t.Strategy.InstrumentLabel, &t.Strategy.InstrumentRegistered,
		&t.Strategy.ExternalRef, &t.Strategy.Note, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	if originated != nil {
		t.OriginatedBookTransactionID = *originated
	}
	if reversal != nil {
		t.ReversalBookTransactionID = *reversal
	}
	if instrument != nil {
		t.Strategy.InstrumentID = *instrument
	}
	return t, nil
}

func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
