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

package disburse

import (
	"context"

	"github.com/blnkfinance/disburse/database"
	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

var walletTracer = otel.Tracer("Wallet")

// walletMutation runs one wallet store call in its own transaction.
func (d *Disburse) walletMutation(ctx context.Context, fn func(tx *database.Tx) (*model.Wallet, error)) (*model.Wallet, error) {
	var wallet *model.Wallet
	err := database.RunInTx(ctx, d.datasource, func(tx *database.Tx) error {
		var err error
		wallet, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// AccrueCommission adds commission that is earned but not yet due.
func (d *Disburse) AccrueCommission(ctx context.Context, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error) {
	ctx, span := walletTracer.Start(ctx, "Accruing commission")
	defer span.End()

	return d.walletMutation(ctx, func(tx *database.Tx) (*model.Wallet, error) {
		return d.datasource.AddPending(ctx, tx, tenantID, recipientID, amount)
	})
}

// ReverseCommission withdraws pending commission, e.g. when the work that
// earned it is cancelled.
func (d *Disburse) ReverseCommission(ctx context.Context, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error) {
	ctx, span := walletTracer.Start(ctx, "Reversing commission")
	defer span.End()

	return d.walletMutation(ctx, func(tx *database.Tx) (*model.Wallet, error) {
		return d.datasource.SubtractPending(ctx, tx, tenantID, recipientID, amount)
	})
}

// ReleaseCommission makes pending commission payable at the next payout.
func (d *Disburse) ReleaseCommission(ctx context.Context, tenantID, recipientID string, amount decimal.Decimal) (*model.Wallet, error) {
	ctx, span := walletTracer.Start(ctx, "Releasing commission")
	defer span.End()

	return d.walletMutation(ctx, func(tx *database.Tx) (*model.Wallet, error) {
		return d.datasource.MoveToPayable(ctx, tx, tenantID, recipientID, amount)
	})
}

// ReassignCommission moves pending commission from one recipient to another.
func (d *Disburse) ReassignCommission(ctx context.Context, tenantID, fromRecipientID, toRecipientID string, amount decimal.Decimal) (from, to *model.Wallet, err error) {
	ctx, span := walletTracer.Start(ctx, "Reassigning commission")
	defer span.End()

	err = database.RunInTx(ctx, d.datasource, func(tx *database.Tx) error {
		var txErr error
		from, to, txErr = d.datasource.TransferPending(ctx, tx, tenantID, fromRecipientID, toRecipientID, amount)
		return txErr
	})
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func (d *Disburse) GetWallet(ctx context.Context, tenantID, recipientID string) (*model.Wallet, error) {
	return d.datasource.GetWallet(ctx, tenantID, recipientID)
}
