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
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const walletColumns = `wallet_id, tenant_id, recipient_id, pending_balance, payable_balance, created_at, updated_at`

func scanWallet(row rowScanner) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := row.Scan(&w.WalletID, &w.TenantID, &w.RecipientID, &w.PendingBalance, &w.PayableBalance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("amount must be greater than zero, got %s", amount), nil)
	}
	return nil
}

// accountingAnomaly reports a mutation that would have left a negative
// balance. It is logged apart from ordinary validation failures since it
// points at a bug or tampering.
func accountingAnomaly(tenantID, recipientID, balance string, current, amount decimal.Decimal) error {
	logrus.WithFields(logrus.Fields{
		"anomaly":      "negative_balance",
		"tenant_id":    tenantID,
		"recipient_id": recipientID,
		"balance":      balance,
		"current":      current.String(),
		"amount":       amount.String(),
	}).Error("accounting anomaly: wallet balance would become negative")
	return apierror.NewAPIError(apierror.ErrAccountingAnomaly,
		fmt.Sprintf("%s balance %s cannot cover %s for recipient '%s'", balance, current, amount, recipientID), nil)
}

func (d Datasource) GetWallet(ctx context.Context, tenantID, recipientID string) (*model.Wallet, error) {
	ctx, span := otel.Tracer("Wallet").Start(ctx, "Fetching wallet from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+walletColumns+` FROM disburse.wallets
		WHERE tenant_id = $1 AND recipient_id = $2
	`, tenantID, recipientID)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Wallet for recipient '%s' not found", recipientID), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch wallet", err)
	}
	return w, nil
}

// lockWallet selects the wallet row FOR UPDATE, creating a zero-balance row
// first if the recipient has none. A concurrent creator is absorbed by
// ON CONFLICT and the row is selected again under lock.
func lockWallet(ctx context.Context, tx *Tx, tenantID, recipientID string) (*model.Wallet, error) {
	selectForUpdate := `
		SELECT ` + walletColumns + ` FROM disburse.wallets
		WHERE tenant_id = $1 AND recipient_id = $2
		FOR UPDATE
	`

	w, err := scanWallet(tx.QueryRowContext(ctx, selectForUpdate, tenantID, recipientID))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock wallet", err)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO disburse.wallets (`+walletColumns+`)
		VALUES ($1, $2, $3, 0, 0, $4, $4)
		ON CONFLICT (tenant_id, recipient_id) DO NOTHING
	`, model.GenerateUUIDWithSuffix("wal"), tenantID, recipientID, now)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create wallet", err)
	}

	w, err = scanWallet(tx.QueryRowContext(ctx, selectForUpdate, tenantID, recipientID))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock wallet", err)
	}
	return w, nil
}

func saveWallet(ctx context.Context, tx *Tx, w *model.Wallet) error {
	w.UpdatedAt = time.Now()
	_, err := tx.ExecContext(ctx, `
		UPDATE disburse.wallets
		SET pending_balance = $2, payable_balance = $3, updated_at = $4
		WHERE wallet_id = $1
	`, w.WalletID, w.PendingBalance, w.PayableBalance, w.UpdatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update wallet", err)
	}
	return nil
}

// mutateWallet locks the wallet and applies change, persisting the result if
// change succeeds.
func mutateWallet(ctx context.Context, tx *Tx, tenantID, recipientID string, change func(w *model.Wallet) error) (*model.Wallet, error) {
	if err := requireTx(tx); err != nil {
		return nil, err
	}
	w, err := lockWallet(ctx, tx, tenantID, recipientID)
	if err != nil {
		return nil, err
	}
	if err := change(w); err != nil {
		return nil, err
	}
	if err := saveWallet(ctx, tx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (d Datasource) GetOrCreateWallet(ctx context.Context, tx *Tx, tenantID, recipientID string) (*model.Wallet, error) {
	ctx, span := otel.Tracer("Wallet").Start(ctx, "Locking wallet")
	defer span.End()

	if err := requireTx(tx); err != nil {
		return nil, err
	}
	return lockWallet(ctx, tx, tenantID, recipientID)
}

func (d Datasource) AddPending(ctx context.Context, tx *Tx, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error) {
	ctx, span := otel.Tracer("Wallet").Start(ctx, "Adding pending commission")
	defer span.End()

	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	return mutateWallet(ctx, tx, tenantID, recipientID, func(w *model.Wallet) error {
		w.PendingBalance = w.PendingBalance.Add(amount)
		return nil
	})
}

func (d Datasource) SubtractPending(ctx context.Context, tx *Tx, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error) {
	ctx, span := otel.Tracer("Wallet").Start(ctx, "Subtracting pending commission")
	defer span.End()

	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	return mutateWallet(ctx, tx, tenantID, recipientID, func(w *model.Wallet) error {
		if w.PendingBalance.LessThan(amount) {
			return accountingAnomaly(tenantID, recipientID, "pending", w.PendingBalance, amount)
		}
		w.PendingBalance = w.PendingBalance.Sub(amount)
		return nil
	})
}

func (d Datasource) MoveToPayable(ctx context.Context, tx *Tx, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error) {
	ctx, span := otel.Tracer("Wallet").Start(ctx, "Moving commission to payable")
	defer span.End()

	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	return mutateWallet(ctx, tx, tenantID, recipientID, func(w *model.Wallet) error {
		if amount.GreaterThan(w.PendingBalance) {
			return apierror.NewAPIError(apierror.ErrInvalidInput,
				fmt.Sprintf("cannot move %s to payable: only %s pending", amount, w.PendingBalance), nil)
		}
		w.PendingBalance = w.PendingBalance.Sub(amount)
		w.PayableBalance = w.PayableBalance.Add(amount)
		return nil
	})
}

func (d Datasource) ResetPayable(ctx context.Context, tx *Tx, tenantID, recipientID string) (*model.Wallet, error) {
	ctx, span := otel.Tracer("Wallet").Start(ctx, "Resetting payable balance")
	defer span.End()

	return mutateWallet(ctx, tx, tenantID, recipientID, func(w *model.Wallet) error {
		w.PayableBalance = decimal.Zero
		return nil
	})
}

// RefundPayable re-credits payable after a failed payout. A zero amount
// changes nothing and returns a nil wallet.
func (d Datasource) RefundPayable(ctx context.Context, tx *Tx, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error) {
	ctx, span := otel.Tracer("Wallet").Start(ctx, "Refunding payable balance")
	defer span.End()

	if err := requireTx(tx); err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, nil
	}
	if amount.IsNegative() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("refund amount cannot be negative, got %s", amount), nil)
	}
	return mutateWallet(ctx, tx, tenantID, recipientID, func(w *model.Wallet) error {
		w.PayableBalance = w.PayableBalance.Add(amount)
		return nil
	})
}

// TransferPending moves pending commission between two recipients. Rows are
// always locked in ascending recipient id order, whichever side is the
// source, so opposite transfers between the same pair cannot deadlock.
//
// Parameters:
// - ctx: Context for the operation.
// - tx: The open transaction both wallet rows are locked in.
// - tenantID: The tenant owning both wallets.
// - fromRecipientID, toRecipientID: Source and destination; they must differ.
// - amount: A positive amount no larger than the source's pending balance.
//
// Returns:
// - *model.Wallet, *model.Wallet: The source and destination wallets after the move.
// - error: A validation error, or the store error that aborted the transfer.
func (d Datasource) TransferPending(ctx context.Context, tx *Tx, tenantID, fromRecipientID, toRecipientID string, amount decimal.Decimal) (*model.Wallet, *model.Wallet, error) {
	ctx, span := otel.Tracer("Wallet").Start(ctx, "Transferring pending commission")
	defer span.End()
	span.SetAttributes(attribute.String("from", fromRecipientID), attribute.String("to", toRecipientID))

	if err := requireTx(tx); err != nil {
		return nil, nil, err
	}
	if err := requirePositive(amount); err != nil {
		return nil, nil, err
	}
	if fromRecipientID == toRecipientID {
		return nil, nil, apierror.NewAPIError(apierror.ErrInvalidInput, "source and destination recipient must differ", nil)
	}

	first, second := fromRecipientID, toRecipientID
	if second < first {
		first, second = second, first
	}

	locked := make(map[string]*model.Wallet, 2)
	for _, recipientID := range []string{first, second} {
		w, err := lockWallet(ctx, tx, tenantID, recipientID)
		if err != nil {
			return nil, nil, err
		}
		locked[recipientID] = w
	}

	from, to := locked[fromRecipientID], locked[toRecipientID]
	if from.PendingBalance.LessThan(amount) {
		return nil, nil, accountingAnomaly(tenantID, fromRecipientID, "pending", from.PendingBalance, amount)
	}
	from.PendingBalance = from.PendingBalance.Sub(amount)
	to.PendingBalance = to.PendingBalance.Add(amount)

	if err := saveWallet(ctx, tx, from); err != nil {
		return nil, nil, err
	}
	if err := saveWallet(ctx, tx, to); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}
