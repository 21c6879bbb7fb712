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
	"time"

	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
)

// IDataSource groups the persistence operations used by the payout core.
type IDataSource interface {
	unitOfWork
	payout
	wallet
	ledgerEntry
}

type unitOfWork interface {
	BeginTx(ctx context.Context) (*Tx, error)
}

type payout interface {
	CreatePayout(ctx context.Context, tx *Tx, p *model.Payout) error
	GetPayout(ctx context.Context, payoutID string) (*model.Payout, error)
	GetTenantsWithPendingPayouts(ctx context.Context) ([]string, error)
	GetDuePendingPayouts(ctx context.Context, tenantID string, asOf time.Time, limit int) ([]*model.Payout, error)
	GetStalePendingPayouts(ctx context.Context, tenantID string, scheduledBefore time.Time, limit, offset int) ([]*model.Payout, error)
	MarkPayoutCompleted(ctx context.Context, tx *Tx, payoutID, note string) error
	MarkPayoutFailed(ctx context.Context, tx *Tx, payoutID, note string) error
}

// wallet mutations lock the wallet row for the rest of tx.
type wallet interface {
	GetWallet(ctx context.Context, tenantID, recipientID string) (*model.Wallet, error)
	GetOrCreateWallet(ctx context.Context, tx *Tx, tenantID, recipientID string) (*model.Wallet, error)
	AddPending(ctx context.Context, tx *Tx, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error)
	SubtractPending(ctx context.Context, tx *Tx, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error)
	MoveToPayable(ctx context.Context, tx *Tx, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error)
	ResetPayable(ctx context.Context, tx *Tx, tenantID, recipientID string) (*model.Wallet, error)
	RefundPayable(ctx context.Context, tx *Tx, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error)
	TransferPending(ctx context.Context, tx *Tx, tenantID, fromRecipientID, toRecipientID string, amount decimal.Decimal) (from, to *model.Wallet, err error)
}

type ledgerEntry interface {
	RecordLedgerEntry(ctx context.Context, tx *Tx, entry *model.LedgerEntry) error
	GetLedgerEntriesByPayout(ctx context.Context, payoutID string) ([]model.LedgerEntry, error)
}
