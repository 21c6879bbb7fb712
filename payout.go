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
	"fmt"

	"github.com/blnkfinance/disburse/database"
	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/internal/gateway"
	redlock "github.com/blnkfinance/disburse/internal/lock"
	"github.com/blnkfinance/disburse/internal/metrics"
	"github.com/blnkfinance/disburse/internal/notification"
	"github.com/blnkfinance/disburse/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	payoutRelayResource   = "payout-relay"
	defaultRelayBatchSize = 50
)

var relayTracer = otel.Tracer("Payout relay")

// RelaySummary counts what one relay tick did.
type RelaySummary struct {
	Skipped       bool `json:"skipped"`
	Tenants       int  `json:"tenants"`
	Completed     int  `json:"completed"`
	Failed        int  `json:"failed"`
	Deferred      int  `json:"deferred"`
	WriteFailures int  `json:"write_failures"`
}

func (s *RelaySummary) record(outcome string) {
	switch outcome {
	case metrics.OutcomeCompleted:
		s.Completed++
	case metrics.OutcomeFailed, metrics.OutcomeInvalid:
		s.Failed++
	case metrics.OutcomeDeferred:
		s.Deferred++
	case metrics.OutcomeWriteFailed:
		s.WriteFailures++
	}
}

func (d *Disburse) relayLockOptions() redlock.RetryOptions {
	return redlock.RetryOptions{
		TTL:        d.config.Payout.LockTTL,
		MaxRetries: d.config.Payout.LockMaxRetries,
		RetryDelay: d.config.Payout.LockRetryDelay,
	}
}

// RunPayoutRelay performs one relay tick: due PENDING payouts, oldest
// scheduled first, are submitted to the gateway and moved to COMPLETED or
// FAILED. The tick is skipped when another process holds the relay lock.
//
// At most payout.batch_size payouts are handled per tick, shared between
// tenants, and the lease is re-armed before every payout after the first. If
// the lease is gone the tick stops with ErrLeaseLost and returns what it did.
func (d *Disburse) RunPayoutRelay(ctx context.Context) (*RelaySummary, error) {
	ctx, span := relayTracer.Start(ctx, "Running payout relay")
	defer span.End()

	summary, ran, err := redlock.WithLock(ctx, d.locker, payoutRelayResource, d.relayLockOptions(),
		func(ctx context.Context, lease *redlock.Lease) (*RelaySummary, error) {
			return d.relayPendingPayouts(ctx, lease)
		})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payout relay failed")
		return summary, err
	}
	if !ran {
		logrus.WithField("resource", payoutRelayResource).Debug("payout relay skipped: lock held by another worker")
		return &RelaySummary{Skipped: true}, nil
	}

	logrus.WithFields(logrus.Fields{
		"tenants":        summary.Tenants,
		"completed":      summary.Completed,
		"failed":         summary.Failed,
		"deferred":       summary.Deferred,
		"write_failures": summary.WriteFailures,
	}).Info("payout relay tick finished")
	return summary, nil
}

// tenantShare splits the tick budget evenly so one busy tenant cannot starve
// the others.
func tenantShare(budget, tenants int) int {
	if tenants <= 0 {
		return budget
	}
	share := (budget + tenants - 1) / tenants
	if share < 1 {
		share = 1
	}
	return share
}

func (d *Disburse) relayPendingPayouts(ctx context.Context, lease *redlock.Lease) (*RelaySummary, error) {
	summary := &RelaySummary{}

	tenants, err := d.datasource.GetTenantsWithPendingPayouts(ctx)
	if err != nil {
		return nil, err
	}

	remaining := d.config.Payout.BatchSize
	if remaining <= 0 {
		remaining = defaultRelayBatchSize
	}
	share := tenantShare(remaining, len(tenants))

	asOf := d.now()
	processed := 0
	for _, tenantID := range tenants {
		if remaining == 0 {
			break
		}
		summary.Tenants++

		limit := share
		if limit > remaining {
			limit = remaining
		}
		payouts, err := d.datasource.GetDuePendingPayouts(ctx, tenantID, asOf, limit)
		if err != nil {
			logrus.WithError(err).WithField("tenant_id", tenantID).Error("failed to load due payouts")
			continue
		}
		for _, p := range payouts {
			if processed > 0 {
				if err := d.extendRelayLease(ctx, lease); err != nil {
					return summary, err
				}
			}
			outcome := d.processPayout(ctx, p)
			d.metrics.PayoutProcessed(outcome)
			summary.record(outcome)
			processed++
			remaining--
		}
	}
	return summary, nil
}

func (d *Disburse) extendRelayLease(ctx context.Context, lease *redlock.Lease) error {
	extended, err := lease.Extend(ctx, d.config.Payout.LockTTL)
	if err != nil {
		return err
	}
	if !extended {
		logrus.WithField("resource", payoutRelayResource).Error("relay lease expired mid-tick; stopping before the next payout")
		return ErrLeaseLost
	}
	return nil
}

// processPayout advances one PENDING payout and returns the outcome label.
func (d *Disburse) processPayout(ctx context.Context, p *model.Payout) string {
	ctx, span := relayTracer.Start(ctx, "Processing payout")
	defer span.End()
	span.SetAttributes(attribute.String("payout_id", p.PayoutID), attribute.String("tenant_id", p.TenantID))

	log := logrus.WithFields(logrus.Fields{"payout_id": p.PayoutID, "tenant_id": p.TenantID})

	if p.MetaData == nil {
		return d.rejectPayout(ctx, p, "missing metadata: destination details are required")
	}
	destination := p.Destination()
	if err := destination.Validate(); err != nil {
		return d.rejectPayout(ctx, p, fmt.Sprintf("invalid destination metadata: %v", err))
	}

	result, err := d.gateway.TriggerPayout(ctx, gateway.PayoutRequest{
		ReferenceID: destination.ReferenceID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Destination: destination,
	})
	if err == nil {
		if result.Status != gateway.StatusCompleted {
			// accepted but not settled; a later tick or reconciliation resolves it
			log.WithFields(logrus.Fields{
				"transaction_reference": result.TransactionReference,
				"gateway_status":        result.Status,
			}).Info("gateway accepted payout without settling it; payout left pending")
			return metrics.OutcomeDeferred
		}
		if err := d.completePayout(ctx, p, result); err != nil {
			d.reportLocalWriteFailure(p, "completed", err)
			return metrics.OutcomeWriteFailed
		}
		log.WithField("transaction_reference", result.TransactionReference).Info("payout completed")
		return metrics.OutcomeCompleted
	}

	declined, ok := gateway.IsDeclined(err)
	if !ok {
		// outcome unknown; the gateway is idempotent per reference so the next tick may retry
		span.RecordError(err)
		log.WithError(err).Warn("gateway call failed without a definite outcome; payout left pending")
		return metrics.OutcomeDeferred
	}

	if err := d.failPayout(ctx, p, fmt.Sprintf("gateway declined: %s", declined.Reason)); err != nil {
		d.reportLocalWriteFailure(p, "declined", err)
		return metrics.OutcomeWriteFailed
	}
	log.WithField("reason", declined.Reason).Info("payout declined by gateway")
	return metrics.OutcomeFailed
}

// rejectPayout fails a payout whose destination could not be read. The
// gateway was never called, so a failed write here is an ordinary error and
// the payout is simply retried next tick.
func (d *Disburse) rejectPayout(ctx context.Context, p *model.Payout, note string) string {
	log := logrus.WithFields(logrus.Fields{"payout_id": p.PayoutID, "tenant_id": p.TenantID})
	if err := d.failPayout(ctx, p, note); err != nil {
		log.WithError(err).Error("failed to mark invalid payout as failed")
		return metrics.OutcomeDeferred
	}
	log.WithField("reason", note).Warn("payout failed validation; gateway not called")
	return metrics.OutcomeInvalid
}

func (d *Disburse) completePayout(ctx context.Context, p *model.Payout, result *gateway.PayoutResult) error {
	return database.RunInTx(ctx, d.datasource, func(tx *database.Tx) error {
		if err := d.datasource.MarkPayoutCompleted(ctx, tx, p.PayoutID, fmt.Sprintf("gateway reference: %s", result.TransactionReference)); err != nil {
			return err
		}
		return d.datasource.RecordLedgerEntry(ctx, tx, &model.LedgerEntry{
			TenantID:    p.TenantID,
			PayoutID:    p.PayoutID,
			RecipientID: p.RecipientID,
			EntryType:   model.LedgerEntryPayrollExpense,
			Amount:      p.Amount,
			Currency:    p.Currency,
			Reference:   result.TransactionReference,
			MetaData: map[string]interface{}{
				"commission":   p.Commission.String(),
				"reference_id": p.ReferenceID(),
			},
		})
	})
}

// failPayout marks p FAILED and hands its commission back to the recipient's
// payable balance in the same transaction.
func (d *Disburse) failPayout(ctx context.Context, p *model.Payout, note string) error {
	return database.RunInTx(ctx, d.datasource, func(tx *database.Tx) error {
		if err := d.datasource.MarkPayoutFailed(ctx, tx, p.PayoutID, note); err != nil {
			return err
		}
		recipientID := p.MetaRecipientID()
		if recipientID == "" || !p.Commission.IsPositive() {
			return nil
		}
		_, err := d.datasource.RefundPayable(ctx, tx, p.TenantID, recipientID, p.Commission)
		return err
	})
}

// reportLocalWriteFailure flags the case where the gateway has already acted
// but the ledger could not record it. The payout keeps its prior state for
// reconciliation to surface; it is never retried here.
func (d *Disburse) reportLocalWriteFailure(p *model.Payout, gatewayOutcome string, err error) {
	logrus.WithFields(logrus.Fields{
		"critical":        true,
		"severity":        "critical",
		"payout_id":       p.PayoutID,
		"tenant_id":       p.TenantID,
		"reference_id":    p.ReferenceID(),
		"gateway_outcome": gatewayOutcome,
		"error":           err,
	}).Error("gateway acted on payout but the ledger write failed; manual reconciliation required")
	d.metrics.LedgerWriteFailed()
	notification.NotifyError(fmt.Errorf("payout %s (tenant %s): gateway %s but ledger write failed: %w", p.PayoutID, p.TenantID, gatewayOutcome, err))
}

// CreatePayout cuts a PENDING payout for a recipient: the base amount plus
// their payable balance, truncated to the currency's minor unit. The payable
// balance is zeroed in the same transaction and any sub-unit remainder is
// credited back, which is why completing the payout later leaves the wallet
// untouched.
//
// Parameters:
// - ctx: Context for the operation.
// - tenantID: The tenant the payout belongs to.
// - req: Recipient, base amount, currency, schedule and destination details.
//
// Returns:
// - *model.Payout: The stored PENDING payout.
// - error: An APIError for invalid input, or the error that rolled the transaction back.
func (d *Disburse) CreatePayout(ctx context.Context, tenantID string, req model.CreatePayoutRequest) (*model.Payout, error) {
	ctx, span := relayTracer.Start(ctx, "Creating payout")
	defer span.End()

	if tenantID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "tenant id is required", nil)
	}
	if err := req.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}

	var payout *model.Payout
	err := database.RunInTx(ctx, d.datasource, func(tx *database.Tx) error {
		wallet, err := d.datasource.GetOrCreateWallet(ctx, tx, tenantID, req.RecipientID)
		if err != nil {
			return err
		}

		base := model.RoundToCurrency(req.BaseAmount, req.Currency)
		// sub-unit remainders of the payable balance stay in the wallet for the next payout
		commission := model.FloorToCurrency(wallet.PayableBalance, req.Currency)
		remainder := wallet.PayableBalance.Sub(commission)
		amount := base.Add(commission)
		if !amount.IsPositive() {
			return apierror.NewAPIError(apierror.ErrInvalidInput, "payout amount must be greater than zero", nil)
		}

		now := d.now()
		payout = &model.Payout{
			PayoutID:      model.GenerateUUIDWithSuffix("pay"),
			TenantID:      tenantID,
			RecipientID:   req.RecipientID,
			Amount:        amount,
			Commission:    commission,
			Currency:      req.Currency,
			Status:        model.PayoutStatusPending,
			ScheduledDate: req.ScheduledDate,
			MetaData:      destinationMetadata(req.RecipientID, req.Destination),
			Notes:         req.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := d.datasource.CreatePayout(ctx, tx, payout); err != nil {
			return err
		}
		if !commission.IsPositive() {
			return nil
		}
		if _, err := d.datasource.ResetPayable(ctx, tx, tenantID, req.RecipientID); err != nil {
			return err
		}
		if remainder.IsPositive() {
			if _, err := d.datasource.RefundPayable(ctx, tx, tenantID, req.RecipientID, remainder); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return payout, nil
}

func destinationMetadata(recipientID string, dest model.PayoutDestination) map[string]interface{} {
	meta := map[string]interface{}{
		model.MetaUserID:      recipientID,
		model.MetaBankAccount: dest.BankAccount,
		model.MetaReferenceID: dest.ReferenceID,
	}
	if dest.RecipientName != "" {
		meta[model.MetaRecipientName] = dest.RecipientName
	}
	if dest.BankCode != "" {
		meta[model.MetaBankCode] = dest.BankCode
	}
	return meta
}
