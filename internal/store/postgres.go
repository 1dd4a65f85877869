package store

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"flashnotes/engine/internal/engine"
)

// PostgresStore bundles the four repository contracts over one
// connection pool. The engine must observe its own writes within a
// propagation call, which holds as long as every repository shares this
// pool (see Open).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Entities() engine.EntityRepository {
	return &entityRepo{db: s.db}
}

func (s *PostgresStore) Collections() engine.CollectionRepository {
	return &collectionRepo{db: s.db}
}

func (s *PostgresStore) Memberships() engine.MembershipRepository {
	return &membershipRepo{db: s.db}
}

func (s *PostgresStore) Usages() engine.UsageRepository {
	return &usageRepo{db: s.db}
}

type entityRepo struct{ db *sql.DB }

type collectionRepo struct{ db *sql.DB }

type membershipRepo struct{ db *sql.DB }

type usageRepo struct{ db *sql.DB }

// classify wraps a raw database error into the engine's taxonomy:
// unique violations become ConflictError, everything else StoreError.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &engine.ConflictError{Message: op, Err: err}
	}
	return &engine.StoreError{Op: op, Err: err}
}
