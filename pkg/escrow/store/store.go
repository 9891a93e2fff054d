// Package store persists escrow domain entities in Postgres via sqlx/pgx,
// with row-level locking for the read-modify-write sequences the
// orchestrator performs under a transaction's state machine (§5, §6).
package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ycagentic/escrow-orchestrator/internal/encryption"
	"github.com/ycagentic/escrow-orchestrator/internal/errors"
)

// Store is the transactional Postgres store backing the orchestrator.
type Store struct {
	db     *sqlx.DB
	cipher *encryption.Cipher
}

// New wraps db in a Store with no metadata encryption.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// NewWithCipher wraps db in a Store that encrypts sensitive transaction
// metadata subfields (§3) with cipher before they reach Postgres.
func NewWithCipher(db *sqlx.DB, cipher *encryption.Cipher) *Store {
	return &Store{db: db, cipher: cipher}
}

// querier is satisfied by both *sqlx.DB and *sqlx.Tx, letting every method
// below run either standalone or inside a caller-managed transaction.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// RunInTx runs fn inside a new transaction, committing on a nil return and
// rolling back otherwise. fn receives a *sqlx.Tx so it can pass it to the
// *ForUpdate/*InTx methods below for row-locked reads.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrap(rbErr, errors.ErrorTypeDatabase, "rollback after error: "+err.Error())
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "commit transaction")
	}
	return nil
}
