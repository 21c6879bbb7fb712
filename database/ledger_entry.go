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
	"encoding/json"
	"time"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"go.opentelemetry.io/otel"
)

func (d Datasource) RecordLedgerEntry(ctx context.Context, tx *Tx, entry *model.LedgerEntry) error {
	ctx, span := otel.Tracer("Ledger entries").Start(ctx, "Saving ledger entry to db")
	defer span.End()

	if err := requireTx(tx); err != nil {
		return err
	}

	if entry.EntryID == "" {
		entry.EntryID = model.GenerateUUIDWithSuffix("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	metaDataJSON, err := json.Marshal(entry.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO disburse.ledger_entries (entry_id, tenant_id, payout_id, recipient_id, entry_type, amount, currency, reference, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.EntryID, entry.TenantID, entry.PayoutID, entry.RecipientID, entry.EntryType, entry.Amount,
		entry.Currency, entry.Reference, metaDataJSON, entry.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record ledger entry", err)
	}
	return nil
}

func (d Datasource) GetLedgerEntriesByPayout(ctx context.Context, payoutID string) ([]model.LedgerEntry, error) {
	ctx, span := otel.Tracer("Ledger entries").Start(ctx, "Fetching ledger entries by payout")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT entry_id, tenant_id, payout_id, recipient_id, entry_type, amount, currency, reference, meta_data, created_at
		FROM disburse.ledger_entries
		WHERE payout_id = $1
		ORDER BY created_at ASC
	`, payoutID)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch ledger entries", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var entry model.LedgerEntry
		var metaDataJSON []byte
		if err := rows.Scan(&entry.EntryID, &entry.TenantID, &entry.PayoutID, &entry.RecipientID, &entry.EntryType,
			&entry.Amount, &entry.Currency, &entry.Reference, &metaDataJSON, &entry.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry", err)
		}
		if len(metaDataJSON) > 0 {
			if err := json.Unmarshal(metaDataJSON, &entry.MetaData); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate ledger entries", err)
	}
	return entries, nil
}
