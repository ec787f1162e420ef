package category

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists categories in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a category store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, c Category) (Category, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	var parent any
	if c.ParentID != uuid.Nil {
		parent = c.ParentID
	}
	_, err := s.db.Exec(ctx, `INSERT INTO vendor_service_categories (id, slug, name, parent_id)
        VALUES ($1, $2, $3, $4)`, c.ID, c.Slug, c.Name, parent)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Category{}, ErrDuplicateSlug
		}
		return Category{}, err
	}
	return c, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Category, error) {
	row := s.db.QueryRow(ctx, `SELECT id, slug, name, parent_id
        FROM vendor_service_categories WHERE id = $1`, id)
	return scanCategory(row)
}

func (s *PostgresStore) BySlug(ctx context.Context, slug string) (Category, bool, error) {
	row := s.db.QueryRow(ctx, `SELECT id, slug, name, parent_id
        FROM vendor_service_categories WHERE slug = $1`, slug)
	c, err := scanCategory(row)
	if errors.Is(err, ErrNotFound) {
		return Category{}, false, nil
	}
	if err != nil {
		return Category{}, false, err
	}
	return c, true, nil
}

func (s *PostgresStore) Children(ctx context.Context, id uuid.UUID) ([]Category, error) {
	rows, err := s.db.Query(ctx, `SELECT id, slug, name, parent_id
        FROM vendor_service_categories WHERE parent_id = $1 ORDER BY slug`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (Category, error) {
	var c Category
	var parent *uuid.UUID
	if err := row.Scan(&c.ID, &c.Slug, &c.Name, &parent); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Category{}, ErrNotFound
		}
		return Category{}, err
	}
	if parent != nil {
		c.ParentID = *parent
	}
	return c, nil
}
