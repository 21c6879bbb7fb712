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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a recipient's commission balances within a tenant.
type Wallet struct {
	WalletID       string          `json:"wallet_id"`
	TenantID       string          `json:"tenant_id"`
	RecipientID    string          `json:"recipient_id"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
	PayableBalance decimal.Decimal `json:"payable_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

const (
	LedgerEntryPayrollExpense = "PAYROLL_EXPENSE"
)

// LedgerEntry records a money movement confirmed by the gateway.
type LedgerEntry struct {
	EntryID     string                 `json:"entry_id"`
	TenantID    string                 `json:"tenant_id"`
	PayoutID    string                 `json:"payout_id"`
	RecipientID string                 `json:"recipient_id"`
	EntryType   string                 `json:"entry_type"`
	Amount      decimal.Decimal        `json:"amount"`
	Currency    string                 `json:"currency"`
	Reference   string                 `json:"reference"`
	MetaData    map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
