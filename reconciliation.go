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
	"errors"
	"fmt"
	"strings"
	"time"

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
	reconciliationResource         = "payout-reconciliation"
	defaultReconciliationBatchSize = 500
)

var reconciliationTracer = otel.Tracer("Reconciliation")

// ErrLeaseLost is returned when a relay tick or reconciliation sweep finds
// its lock lease expired before the work finished.
var ErrLeaseLost = errors.New("lock lease lost before the work finished")

// classifyMismatch compares a PENDING ledger status with the gateway's view.
// Only a terminal gateway status is a mismatch.
func classifyMismatch(ledger model.PayoutStatus, gw gateway.Status) (model.MismatchType, bool) {
	if ledger != model.PayoutStatusPending {
		return "", false
	}
	switch gw {
	case gateway.StatusCompleted:
		return model.MismatchPendingButCompleted, true
	case gateway.StatusFailed:
		return model.MismatchPendingButFailed, true
	default:
		return "", false
	}
}

func mismatchPriority(t model.MismatchType) notification.Priority {
	if t == model.MismatchPendingButCompleted {
		return notification.PriorityCritical
	}
	return notification.PriorityHigh
}

// RunReconciliation scans stale PENDING payouts of every tenant, asks the
// gateway for their real status and opens one ticket per mismatch. It only
// reads payouts and wallets; remediation is left to operators.
func (d *Disburse) RunReconciliation(ctx context.Context) (*model.ReconciliationReport, error) {
	ctx, span := reconciliationTracer.Start(ctx, "Running reconciliation")
	defer span.End()

	opts := redlock.RetryOptions{TTL: d.config.Reconciliation.LockTTL}
	report, ran, err := redlock.WithLock(ctx, d.locker, reconciliationResource, opts,
		func(ctx context.Context, lease *redlock.Lease) (*model.ReconciliationReport, error) {
			return d.reconcile(ctx, lease)
		})
	if !ran && err == nil {
		d.metrics.ReconciliationRun(metrics.RunSkipped)
		logrus.WithField("resource", reconciliationResource).Debug("reconciliation skipped: lock held by another worker")
		return nil, nil
	}
	if err != nil {
		d.metrics.ReconciliationRun(metrics.RunFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconciliation failed")
		return report, err
	}

	d.metrics.ReconciliationRun(metrics.RunCompleted)
	logrus.WithFields(logrus.Fields{
		"run_id":          report.RunID,
		"tenants":         report.TenantsScanned,
		"stale_payouts":   report.StalePayouts,
		"payouts_checked": report.PayoutsChecked,
		"gateway_errors":  report.GatewayErrors,
		"mismatches":      len(report.Mismatches),
	}).Info("reconciliation finished")
	return report, nil
}

func (d *Disburse) reconcile(ctx context.Context, lease *redlock.Lease) (*model.ReconciliationReport, error) {
	report := &model.ReconciliationReport{
		RunID:     model.GenerateUUIDWithSuffix("recon"),
		StartedAt: d.now(),
	}

	tenants, err := d.datasource.GetTenantsWithPendingPayouts(ctx)
	if err != nil {
		return report, err
	}

	cutoff := d.now().Add(-d.config.Reconciliation.StaleThreshold)
	for i, tenantID := range tenants {
		if i > 0 {
			extended, err := lease.Extend(ctx, d.config.Reconciliation.LockTTL)
			if err != nil {
				return report, err
			}
			if !extended {
				return report, ErrLeaseLost
			}
		}
		if err := d.reconcileTenant(ctx, tenantID, cutoff, report); err != nil {
			logrus.WithError(err).WithField("tenant_id", tenantID).Error("failed to reconcile tenant")
		}
		report.TenantsScanned++
	}

	report.CompletedAt = d.now()
	d.metrics.SetStuckPayouts(report.StalePayouts)
	return report, nil
}

func (d *Disburse) reconcileTenant(ctx context.Context, tenantID string, cutoff time.Time, report *model.ReconciliationReport) error {
	ctx, span := reconciliationTracer.Start(ctx, "Reconciling tenant")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID))

	batchSize := d.config.Reconciliation.BatchSize
	if batchSize <= 0 {
		batchSize = defaultReconciliationBatchSize
	}
	for offset := 0; ; offset += batchSize {
		payouts, err := d.datasource.GetStalePendingPayouts(ctx, tenantID, cutoff, batchSize, offset)
		if err != nil {
			return err
		}
		for _, p := range payouts {
			report.StalePayouts++
			d.checkPayout(ctx, p, report)
		}
		if len(payouts) < batchSize {
			return nil
		}
	}
}

func (d *Disburse) checkPayout(ctx context.Context, p *model.Payout, report *model.ReconciliationReport) {
	referenceID := p.ReferenceID()
	log := logrus.WithFields(logrus.Fields{"payout_id": p.PayoutID, "tenant_id": p.TenantID, "reference_id": referenceID})

	status, err := d.gateway.CheckPayoutStatus(ctx, referenceID)
	if err != nil {
		report.GatewayErrors++
		log.WithError(err).Warn("could not fetch gateway status")
		return
	}
	report.PayoutsChecked++

	mismatchType, ok := classifyMismatch(p.Status, status)
	if !ok {
		return
	}

	mismatch := model.Mismatch{
		PayoutID:      p.PayoutID,
		TenantID:      p.TenantID,
		LedgerStatus:  p.Status,
		GatewayStatus: string(status),
		Type:          mismatchType,
		ReferenceID:   referenceID,
	}
	report.Mismatches = append(report.Mismatches, mismatch)
	d.metrics.MismatchDetected(string(mismatchType))
	log.WithField("mismatch_type", mismatchType).Warn("payout mismatch detected")

	if err := d.ticketer.CreateTicket(ctx, mismatchTicket(mismatch, p, report.RunID)); err != nil {
		log.WithError(err).Error("failed to create reconciliation ticket")
	}
}

func mismatchTicket(m model.Mismatch, p *model.Payout, runID string) notification.Ticket {
	var action string
	if m.Type == model.MismatchPendingButCompleted {
		action = "The gateway paid out but the ledger never recorded it. Record the payroll expense and mark the payout COMPLETED. Do not retry the payout."
	} else {
		action = "The gateway failed this payout. Mark it FAILED and refund its commission to the recipient's payable balance."
	}

	return notification.Ticket{
		Title:    fmt.Sprintf("Payout %s is %s in the ledger but %s at the gateway", m.PayoutID, m.LedgerStatus, m.GatewayStatus),
		Body:     fmt.Sprintf("%s\n\nAmount: %s %s\nCommission: %s\nReference: %s", action, p.Amount, p.Currency, p.Commission, m.ReferenceID),
		Priority: mismatchPriority(m.Type),
		Labels:   []string{"reconciliation", "payout", strings.ToLower(string(m.Type))},
		Metadata: map[string]interface{}{
			"payoutId":      m.PayoutID,
			"tenantId":      m.TenantID,
			"referenceId":   m.ReferenceID,
			"mismatchType":  string(m.Type),
			"ledgerStatus":  string(m.LedgerStatus),
			"gatewayStatus": m.GatewayStatus,
			"runId":         runID,
		},
	}
}
