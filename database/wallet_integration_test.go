//go:build integration

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
	"errors"
	"math/rand"
	"os"
	"sync"
	"testing"

	"github.com/blnkfinance/disburse/model"
	"github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: DISBURSE_TEST_DSN=postgres://... go test -tags integration ./database/
func integrationDatasource(t *testing.T) Datasource {
	dsn := os.Getenv("DISBURSE_TEST_DSN")
	if dsn == "" {
		t.Skip("DISBURSE_TEST_DSN not set")
	}
	db, err := ConnectDB(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = migrate.Exec(db, "postgres", &migrate.FileMigrationSource{Dir: "../sql"}, migrate.Up)
	require.NoError(t, err)
	return Datasource{Conn: db}
}

func seedPending(t *testing.T, ds Datasource, tenantID, recipientID string, amount decimal.Decimal) {
	ctx := context.Background()
	tx, err := ds.BeginTx(ctx)
	require.NoError(t, err)
	_, err = ds.AddPending(ctx, tx, tenantID, recipientID, amount)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func TestTransferPending_OppositeDirectionsNeverDeadlock(t *testing.T) {
	ds := integrationDatasource(t)
	ctx := context.Background()

	tenantID := model.GenerateUUIDWithSuffix("tenant")
	a, b := "recipient-a", "recipient-b"
	seedPending(t, ds, tenantID, a, decimal.NewFromInt(1000))
	seedPending(t, ds, tenantID, b, decimal.NewFromInt(1000))

	const trials = 200
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		deadlocks int
		failures  []error
	)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < trials; i++ {
		from, to := a, b
		if rng.Intn(2) == 0 {
			from, to = b, a
		}
		amount := decimal.NewFromInt(int64(rng.Intn(5) + 1))

		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := ds.BeginTx(ctx)
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return
			}
			_, _, err = ds.TransferPending(ctx, tx, tenantID, from, to, amount)
			if err != nil {
				_ = tx.Rollback()
				var pqErr *pq.Error
				mu.Lock()
				if errors.As(err, &pqErr) && pqErr.Code == "40P01" {
					deadlocks++
				}
				failures = append(failures, err)
				mu.Unlock()
				return
			}
			if err := tx.Commit(); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, deadlocks)
	assert.Empty(t, failures)

	wa, err := ds.GetWallet(ctx, tenantID, a)
	require.NoError(t, err)
	wb, err := ds.GetWallet(ctx, tenantID, b)
	require.NoError(t, err)
	assert.True(t, wa.PendingBalance.Add(wb.PendingBalance).Equal(decimal.NewFromInt(2000)),
		"pending total changed: %s + %s", wa.PendingBalance, wb.PendingBalance)
	assert.False(t, wa.PendingBalance.IsNegative())
	assert.False(t, wb.PendingBalance.IsNegative())
}
