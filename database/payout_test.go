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
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payoutColumnNames = []string{"payout_id", "tenant_id", "recipient_id", "amount", "commission", "currency", "status", "scheduled_date", "meta_data", "notes", "created_at", "updated_at"}

func fakePayout() *model.Payout {
	return &model.Payout{
		PayoutID:      model.GenerateUUIDWithSuffix("pay"),
		TenantID:      "t1",
		RecipientID:   gofakeit.UUID(),
		Amount:        decimal.RequireFromString("1050.00"),
		Commission:    decimal.RequireFromString("50.00"),
		Currency:      "USD",
		Status:        model.PayoutStatusPending,
		ScheduledDate: fixedNow,
		MetaData: map[string]interface{}{
			model.MetaUserID:        "u1",
			model.MetaRecipientName: gofakeit.Name(),
			model.MetaBankAccount:   gofakeit.AchAccount(),
			model.MetaReferenceID:   "ref-1",
		},
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
}

func payoutRows(payouts ...*model.Payout) *sqlmock.Rows {
	rows := sqlmock.NewRows(payoutColumnNames)
	for _, p := range payouts {
		meta, _ := json.Marshal(p.MetaData)
		rows.AddRow(p.PayoutID, p.TenantID, p.RecipientID, p.Amount.String(), p.Commission.String(), p.Currency,
			string(p.Status), p.ScheduledDate, meta, p.Notes, p.CreatedAt, p.UpdatedAt)
	}
	return rows
}

func TestCreatePayout(t *testing.T) {
	ds, mock := newMockDatasource(t)
	tx := beginMockTx(t, ds, mock)
	p := fakePayout()
	meta, err := json.Marshal(p.MetaData)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO disburse.payouts").
		WithArgs(p.PayoutID, "t1", p.RecipientID, decimalArg("1050"), decimalArg("50"), "USD", "PENDING",
			fixedNow, meta, "", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, ds.CreatePayout(context.Background(), tx, p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePayout_Duplicate(t *testing.T) {
	ds, mock := newMockDatasource(t)
	tx := beginMockTx(t, ds, mock)

	mock.ExpectExec("INSERT INTO disburse.payouts").WillReturnError(&pq.Error{Code: "23505"})

	err := ds.CreatePayout(context.Background(), tx, fakePayout())
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
}

func TestGetPayout(t *testing.T) {
	ds, mock := newMockDatasource(t)
	p := fakePayout()
	p.Notes = "created by payroll run"

	mock.ExpectQuery(`SELECT .+ FROM disburse.payouts WHERE payout_id = \$1`).
		WithArgs(p.PayoutID).
		WillReturnRows(payoutRows(p))

	got, err := ds.GetPayout(context.Background(), p.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, p.PayoutID, got.PayoutID)
	assert.Equal(t, model.PayoutStatusPending, got.Status)
	assert.True(t, got.Amount.Equal(p.Amount))
	assert.True(t, got.Commission.Equal(p.Commission))
	assert.Equal(t, "u1", got.MetaRecipientID())
	assert.Equal(t, "ref-1", got.ReferenceID())
	assert.Equal(t, "created by payroll run", got.Notes)
}

func TestGetPayout_NotFound(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery(`SELECT .+ FROM disburse.payouts`).WithArgs("pay_missing").WillReturnRows(sqlmock.NewRows(payoutColumnNames))

	_, err := ds.GetPayout(context.Background(), "pay_missing")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestGetTenantsWithPendingPayouts(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery(`SELECT DISTINCT tenant_id FROM disburse.payouts`).
		WithArgs("PENDING").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("t1").AddRow("t2"))

	tenants, err := ds.GetTenantsWithPendingPayouts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, tenants)
}

func TestGetDuePendingPayouts(t *testing.T) {
	ds, mock := newMockDatasource(t)
	older, newer := fakePayout(), fakePayout()
	older.ScheduledDate = fixedNow.Add(-48 * time.Hour)

	mock.ExpectQuery(`SELECT .+ FROM disburse.payouts\s+WHERE tenant_id = \$1 AND status = \$2 AND scheduled_date <= \$3\s+ORDER BY scheduled_date ASC, created_at ASC\s+LIMIT \$4`).
		WithArgs("t1", "PENDING", fixedNow, 50).
		WillReturnRows(payoutRows(older, newer))

	payouts, err := ds.GetDuePendingPayouts(context.Background(), "t1", fixedNow, 50)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	assert.Equal(t, older.PayoutID, payouts[0].PayoutID)
	assert.Equal(t, newer.PayoutID, payouts[1].PayoutID)
}

func TestGetStalePendingPayouts(t *testing.T) {
	ds, mock := newMockDatasource(t)
	cutoff := fixedNow.Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT .+ FROM disburse.payouts\s+WHERE tenant_id = \$1 AND status = \$2 AND scheduled_date < \$3`).
		WithArgs("t1", "PENDING", cutoff, 500, 1000).
		WillReturnRows(sqlmock.NewRows(payoutColumnNames))

	payouts, err := ds.GetStalePendingPayouts(context.Background(), "t1", cutoff, 500, 1000)
	require.NoError(t, err)
	assert.Empty(t, payouts)
}

func TestMarkPayoutCompleted(t *testing.T) {
	ds, mock := newMockDatasource(t)
	tx := beginMockTx(t, ds, mock)

	mock.ExpectExec(`UPDATE disburse.payouts\s+SET status = \$2`).
		WithArgs("pay_1", "COMPLETED", "gateway reference: gtx_1", sqlmock.AnyArg(), "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ds.MarkPayoutCompleted(context.Background(), tx, "pay_1", "gateway reference: gtx_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPayoutFailed_AlreadyTerminal(t *testing.T) {
	ds, mock := newMockDatasource(t)
	tx := beginMockTx(t, ds, mock)

	mock.ExpectExec(`UPDATE disburse.payouts`).
		WithArgs("pay_1", "FAILED", "declined", sqlmock.AnyArg(), "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := ds.MarkPayoutFailed(context.Background(), tx, "pay_1", "declined")
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
}

func TestMarkPayoutFailed_DatabaseError(t *testing.T) {
	ds, mock := newMockDatasource(t)
	tx := beginMockTx(t, ds, mock)

	mock.ExpectExec(`UPDATE disburse.payouts`).WillReturnError(sql.ErrConnDone)

	err := ds.MarkPayoutFailed(context.Background(), tx, "pay_1", "declined")
	assert.True(t, apierror.Is(err, apierror.ErrInternalServer))
}

func TestRecordLedgerEntry(t *testing.T) {
	ds, mock := newMockDatasource(t)
	tx := beginMockTx(t, ds, mock)

	entry := &model.LedgerEntry{
		TenantID:    "t1",
		PayoutID:    "pay_1",
		RecipientID: "r1",
		EntryType:   model.LedgerEntryPayrollExpense,
		Amount:      decimal.NewFromInt(1050),
		Currency:    "USD",
		Reference:   "gtx_1",
	}

	mock.ExpectExec("INSERT INTO disburse.ledger_entries").
		WithArgs(sqlmock.AnyArg(), "t1", "pay_1", "r1", "PAYROLL_EXPENSE", decimalArg("1050"), "USD", "gtx_1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, ds.RecordLedgerEntry(context.Background(), tx, entry))
	assert.NotEmpty(t, entry.EntryID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLedgerEntriesByPayout(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery(`SELECT .+ FROM disburse.ledger_entries`).
		WithArgs("pay_1").
		WillReturnRows(sqlmock.NewRows([]string{"entry_id", "tenant_id", "payout_id", "recipient_id", "entry_type", "amount", "currency", "reference", "meta_data", "created_at"}).
			AddRow("led_1", "t1", "pay_1", "r1", "PAYROLL_EXPENSE", "1050", "USD", "gtx_1", []byte(`{"gateway":"sandbox"}`), fixedNow))

	entries, err := ds.GetLedgerEntriesByPayout(context.Background(), "pay_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "gtx_1", entries[0].Reference)
	assert.Equal(t, "sandbox", entries[0].MetaData["gateway"])
}
