/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"sync"

	"github.com/blnkfinance/disburse/internal/apierror"
)

// Tx is an open unit of work. Wallet mutations only accept an active Tx so
// that their row locks are held until the caller commits.
type Tx struct {
	mu   sync.Mutex
	tx   *sql.Tx
	done bool
}

// WrapTx adopts an already started transaction.
func WrapTx(tx *sql.Tx) *Tx {
	return &Tx{tx: tx}
}

func (d Datasource) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	return WrapTx(tx), nil
}

// Active reports whether t can still run statements.
func (t *Tx) Active() bool {
	if t == nil || t.tx == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done
}

func (t *Tx) Commit() error {
	if err := requireTx(t); err != nil {
		return err
	}
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
	if err := t.tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

// Rollback aborts t. It is a no-op once t has been committed or rolled back,
// so it is safe to defer right after BeginTx.
func (t *Tx) Rollback() error {
	if !t.Active() {
		return nil
	}
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
	return t.tx.Rollback()
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func requireTx(tx *Tx) error {
	if !tx.Active() {
		return apierror.NewAPIError(apierror.ErrTransactionRequired, "an active database transaction is required", nil)
	}
	return nil
}

// RunInTx runs fn inside a new transaction, committing when fn succeeds and
// rolling back otherwise.
func RunInTx(ctx context.Context, ds IDataSource, fn func(tx *Tx) error) error {
	tx, err := ds.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
