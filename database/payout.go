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
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const payoutColumns = `payout_id, tenant_id, recipient_id, amount, commission, currency, status, scheduled_date, meta_data, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayout(row rowScanner) (*model.Payout, error) {
	p := &model.Payout{}
	var metaDataJSON []byte
	var notes sql.NullString
	err := row.Scan(&p.PayoutID, &p.TenantID, &p.RecipientID, &p.Amount, &p.Commission, &p.Currency,
		&p.Status, &p.ScheduledDate, &metaDataJSON, &notes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Notes = notes.String
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &p.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal payout metadata", err)
		}
	}
	return p, nil
}

func scanPayouts(rows *sql.Rows) ([]*model.Payout, error) {
	defer rows.Close()
	var payouts []*model.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payouts, nil
}

func (d Datasource) CreatePayout(ctx context.Context, tx *Tx, p *model.Payout) error {
	ctx, span := otel.Tracer("Payout store").Start(ctx, "Saving payout to db")
	defer span.End()

	if err := requireTx(tx); err != nil {
		return err
	}

	metaDataJSON, err := json.Marshal(p.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO disburse.payouts (`+payoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.PayoutID, p.TenantID, p.RecipientID, p.Amount, p.Commission, p.Currency, p.Status,
		p.ScheduledDate, metaDataJSON, p.Notes, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apierror.NewAPIError(apierror.ErrConflict, "Payout with this ID already exists", err)
		}
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create payout", err)
	}
	return nil
}

func (d Datasource) GetPayout(ctx context.Context, payoutID string) (*model.Payout, error) {
	ctx, span := otel.Tracer("Payout store").Start(ctx, "Fetching payout from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM disburse.payouts WHERE payout_id = $1`, payoutID)
	p, err := scanPayout(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with ID '%s' not found", payoutID), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch payout", err)
	}
	return p, nil
}

func (d Datasource) GetTenantsWithPendingPayouts(ctx context.Context) ([]string, error) {
	ctx, span := otel.Tracer("Payout store").Start(ctx, "Fetching tenants with pending payouts")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT DISTINCT tenant_id FROM disburse.payouts
		WHERE status = $1
		ORDER BY tenant_id
	`, model.PayoutStatusPending)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch tenants", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan tenant", err)
		}
		tenants = append(tenants, tenantID)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate tenants", err)
	}
	return tenants, nil
}

// GetDuePendingPayouts returns up to limit PENDING payouts scheduled at or
// before asOf, oldest scheduled first.
func (d Datasource) GetDuePendingPayouts(ctx context.Context, tenantID string, asOf time.Time, limit int) ([]*model.Payout, error) {
	ctx, span := otel.Tracer("Payout store").Start(ctx, "Fetching due pending payouts")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID), attribute.Int("limit", limit))

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM disburse.payouts
		WHERE tenant_id = $1 AND status = $2 AND scheduled_date <= $3
		ORDER BY scheduled_date ASC, created_at ASC
		LIMIT $4
	`, tenantID, model.PayoutStatusPending, asOf, limit)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch due payouts", err)
	}
	payouts, err := scanPayouts(rows)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payouts", err)
	}
	return payouts, nil
}

// GetStalePendingPayouts pages through PENDING payouts whose scheduled date
// is before scheduledBefore.
func (d Datasource) GetStalePendingPayouts(ctx context.Context, tenantID string, scheduledBefore time.Time, limit, offset int) ([]*model.Payout, error) {
	ctx, span := otel.Tracer("Payout store").Start(ctx, "Fetching stale pending payouts")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID))

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM disburse.payouts
		WHERE tenant_id = $1 AND status = $2 AND scheduled_date < $3
		ORDER BY scheduled_date ASC, payout_id ASC
		LIMIT $4 OFFSET $5
	`, tenantID, model.PayoutStatusPending, scheduledBefore, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch stale payouts", err)
	}
	payouts, err := scanPayouts(rows)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payouts", err)
	}
	return payouts, nil
}

func (d Datasource) MarkPayoutCompleted(ctx context.Context, tx *Tx, payoutID, note string) error {
	return transitionPayout(ctx, tx, payoutID, model.PayoutStatusCompleted, note)
}

func (d Datasource) MarkPayoutFailed(ctx context.Context, tx *Tx, payoutID, note string) error {
	return transitionPayout(ctx, tx, payoutID, model.PayoutStatusFailed, note)
}

// transitionPayout moves a PENDING payout to a terminal status. A payout that
// is no longer PENDING is reported as a conflict and left untouched.
func transitionPayout(ctx context.Context, tx *Tx, payoutID string, status model.PayoutStatus, note string) error {
	ctx, span := otel.Tracer("Payout store").Start(ctx, "Updating payout status")
	defer span.End()
	span.SetAttributes(attribute.String("payout_id", payoutID), attribute.String("status", string(status)))

	if err := requireTx(tx); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE disburse.payouts
		SET status = $2,
			notes = CASE WHEN COALESCE(notes, '') = '' THEN $3 ELSE notes || E'\n' || $3 END,
			updated_at = $4
		WHERE payout_id = $1 AND status = $5
	`, payoutID, status, note, time.Now(), model.PayoutStatusPending)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payout status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payout '%s' is no longer pending", payoutID), nil)
	}
	return nil
}
