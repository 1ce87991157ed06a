// Package queries implements db.Store on PostgreSQL with sqlx.
package queries

import (
	"context"
	"fmt"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// Store is the PostgreSQL implementation of db.Store.
type Store struct {
	DB *sqlx.DB
}

var _ db.Store = (*Store)(nil)

// New wraps an open connection pool.
func New(conn *sqlx.DB) *Store {
	return &Store{DB: conn}
}

// lockProject serializes ordering and sequence allocation for one project
// until the surrounding transaction ends.
func lockProject(ctx context.Context, tx *sqlx.Tx, projectID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, projectID.String()); err != nil {
		return fmt.Errorf("failed to lock project %s: %w", projectID, err)
	}
	return nil
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Errorf("withTx: rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
