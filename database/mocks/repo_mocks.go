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

package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/disburse/database"
	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

func walletOrNil(v interface{}) *model.Wallet {
	if v == nil {
		return nil
	}
	return v.(*model.Wallet)
}

// Unit of work

func (m *MockDataSource) BeginTx(ctx context.Context) (*database.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.Tx), args.Error(1)
}

// Payout methods

func (m *MockDataSource) CreatePayout(ctx context.Context, tx *database.Tx, p *model.Payout) error {
	args := m.Called(ctx, tx, p)
	return args.Error(0)
}

func (m *MockDataSource) GetPayout(ctx context.Context, payoutID string) (*model.Payout, error) {
	args := m.Called(ctx, payoutID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payout), args.Error(1)
}

func (m *MockDataSource) GetTenantsWithPendingPayouts(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDataSource) GetDuePendingPayouts(ctx context.Context, tenantID string, asOf time.Time, limit int) ([]*model.Payout, error) {
	args := m.Called(ctx, tenantID, asOf, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Payout), args.Error(1)
}

func (m *MockDataSource) GetStalePendingPayouts(ctx context.Context, tenantID string, scheduledBefore time.Time, limit, offset int) ([]*model.Payout, error) {
	args := m.Called(ctx, tenantID, scheduledBefore, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Payout), args.Error(1)
}

func (m *MockDataSource) MarkPayoutCompleted(ctx context.Context, tx *database.Tx, payoutID, note string) error {
	args := m.Called(ctx, tx, payoutID, note)
	return args.Error(0)
}

func (m *MockDataSource) MarkPayoutFailed(ctx context.Context, tx *database.Tx, payoutID, note string) error {
	args := m.Called(ctx, tx, payoutID, note)
	return args.Error(0)
}

// Wallet methods

func (m *MockDataSource) GetWallet(ctx context.Context, tenantID, recipientID string) (*model.Wallet, error) {
	args := m.Called(ctx, tenantID, recipientID)
	return walletOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetOrCreateWallet(ctx context.Context, tx *database.Tx, tenantID, recipientID string) (*model.Wallet, error) {
	args := m.Called(ctx, tx, tenantID, recipientID)
	return walletOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) AddPending(ctx context.Context, tx *database.Tx, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error) {
	args := m.Called(ctx, tx, tenantID, recipientID, amount)
	return walletOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) SubtractPending(ctx context.Context, tx *database.Tx, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error) {
	args := m.Called(ctx, tx, tenantID, recipientID, amount)
	return walletOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) MoveToPayable(ctx context.Context, tx *database.Tx, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error) {
	args := m.Called(ctx, tx, tenantID, recipientID, amount)
	return walletOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) ResetPayable(ctx context.Context, tx *database.Tx, tenantID, recipientID string) (*model.Wallet, error) {
	args := m.Called(ctx, tx, tenantID, recipientID)
	return walletOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) RefundPayable(ctx context.Context, tx *database.Tx, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error) {
	args := m.Called(ctx, tx, tenantID, recipientID, amount)
	return walletOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) TransferPending(ctx context.Context, tx *database.Tx, tenantID, fromRecipientID, toRecipientID string, amount decimal.Decimal) (*model.Wallet, *model.Wallet, error) {
	args := m.Called(ctx, tx, tenantID, fromRecipientID, toRecipientID, amount)
	return walletOrNil(args.Get(0)), walletOrNil(args.Get(1)), args.Error(2)
}

// Ledger entry methods

func (m *MockDataSource) RecordLedgerEntry(ctx context.Context, tx *database.Tx, entry *model.LedgerEntry) error {
	args := m.Called(ctx, tx, entry)
	return args.Error(0)
}

func (m *MockDataSource) GetLedgerEntriesByPayout(ctx context.Context, payoutID string) ([]model.LedgerEntry, error) {
	args := m.Called(ctx, payoutID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.LedgerEntry), args.Error(1)
}

var _ database.IDataSource = (*MockDataSource)(nil)
