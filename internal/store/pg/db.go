// Package pg implements the store contracts on Postgres via database/sql
// and the pgx stdlib driver. Schema lives in migrations/ and is applied with
// the migrate subcommand.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/convogate/internal/store"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// OpenDB opens and pings a Postgres connection pool.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w: %v", store.ErrUnavailable, err)
	}
	return db, nil
}

// NewStores creates all stores backed by one Postgres pool.
func NewStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Conversations: NewConversationStore(db),
		Leads:         NewLeadStore(db),
		Companies:     NewCompanyStore(db),
		Budgets:       NewBudgetStore(db),
	}
}

// mapErr folds driver errors into the store taxonomy.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", op, store.ErrConflict)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, store.ErrReferenceNotFound)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
