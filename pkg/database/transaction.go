package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type txContextKey string

const txKey = txContextKey("tx-context-key")

// Tx is a transaction that can be shared through the context so nested
// repository calls join the caller's transaction.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	IsOpen() bool
	// Owner reports whether this call site began the transaction and must close it.
	Owner() bool
}

type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
	owner    bool
}

type joinedTx struct {
	Tx
}

func (joinedTx) Owner() bool { return false }

// Commit and Rollback on a joined transaction are left to the owner.
func (joinedTx) Commit(context.Context) error   { return nil }
func (joinedTx) Rollback(context.Context) error { return nil }

// GetTx returns the open transaction carried by ctx, or begins a new one and
// stores it in the returned context.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if ctxTx, ok := ctx.Value(txKey).(Tx); ok && ctxTx != nil && ctxTx.IsOpen() {
		return ctx, joinedTx{ctxTx}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction")
	}

	newTx := &Transaction{Tx: tx, logger: logger, owner: true}
	return context.WithValue(ctx, txKey, Tx(newTx)), newTx, nil
}

func (t *Transaction) IsOpen() bool { return !t.isClosed }

func (t *Transaction) Owner() bool { return t.owner }

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	if err := t.Tx.Rollback(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction")
	}

	t.isClosed = true
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction")
	}

	t.isClosed = true
	return nil
}
