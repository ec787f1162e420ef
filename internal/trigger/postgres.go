package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists triggers and executions in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed trigger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const triggerColumns = `id, label, originating_ledger_id, receiving_ledger_name, match_multiplier,
    payer_fraction, maximum_cumulative_subsidy, active_at, active_until, program_id, created_at`

func (s *PostgresStore) Create(ctx context.Context, t Trigger) (Trigger, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO payment_triggers (`+triggerColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Label, t.OriginatingLedgerID, t.ReceivingLedgerName, t.MatchMultiplier,
		t.PayerFraction, t.MaximumCumulativeSubsidy, t.ActiveAt.UTC(), t.ActiveUntil.UTC(),
		nullableUUID(t.ProgramID), t.CreatedAt)
	if err != nil {
		return Trigger{}, err
	}
	return t, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Trigger, error) {
	return s.scanTrigger(s.db.QueryRow(ctx, `SELECT `+triggerColumns+`
        FROM payment_triggers WHERE id = $1`, id))
}

func (s *PostgresStore) Update(ctx context.Context, t Trigger) (Trigger, error) {
	tag, err := s.db.Exec(ctx, `UPDATE payment_triggers SET
        label = $2, match_multiplier = $3, payer_fraction = $4, maximum_cumulative_subsidy = $5,
        active_at = $6, active_until = $7, program_id = $8
        WHERE id = $1`,
		t.ID, t.Label, t.MatchMultiplier, t.PayerFraction, t.MaximumCumulativeSubsidy,
		t.ActiveAt.UTC(), t.ActiveUntil.UTC(), nullableUUID(t.ProgramID))
	if err != nil {
		return Trigger{}, err
	}
	if tag.RowsAffected() == 0 {
		return Trigger{}, ErrNotFound
	}
	return t, nil
}

func (s *PostgresStore) ActiveAt(ctx context.Context, at time.Time) ([]Trigger, error) {
	rows, err := s.db.Query(ctx, `SELECT `+triggerColumns+`
        FROM payment_triggers WHERE active_at <= $1 AND active_until > $1
        ORDER BY created_at, id`, at.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trigger
	for rows.Next() {
		t, err := s.scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateExecution(ctx context.Context, e Execution) (Execution, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO payment_trigger_executions
        (id, trigger_id, book_transaction_id, receiving_ledger_id, amount, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.TriggerID, e.BookTransactionID, e.ReceivingLedgerID, e.Amount, e.CreatedAt)
	if err != nil {
		return Execution{}, err
	}
	return e, nil
}

func (s *PostgresStore) ExecutedAmount(ctx context.Context, triggerID uuid.UUID, ledgerIDs []uuid.UUID) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payment_trigger_executions
        WHERE trigger_id = $1 AND receiving_ledger_id = ANY($2)`, triggerID, ledgerIDs).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanTrigger(row rowScanner) (Trigger, error) {
	var t Trigger
	var program *uuid.UUID
	if err := row.Scan(&t.ID, &t.Label, &t.OriginatingLedgerID, &t.ReceivingLedgerName,
		&t.MatchMultiplier, &t.PayerFraction, &t.MaximumCumulativeSubsidy,
		&t.ActiveAt, &t.ActiveUntil, &program, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Trigger{}, ErrNotFound
		}
		return Trigger{}, err
	}
	if program != nil {
		t.ProgramID = *program
	}
	return t, nil
}

func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
