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

import "time"

type MismatchType string

const (
	MismatchPendingButCompleted MismatchType = "PENDING_BUT_COMPLETED"
	MismatchPendingButFailed    MismatchType = "PENDING_BUT_FAILED"
)

// Mismatch is a divergence between the ledger and the gateway for one payout.
// It lives only for the duration of a reconciliation sweep.
type Mismatch struct {
	PayoutID      string       `json:"payout_id"`
	TenantID      string       `json:"tenant_id"`
	LedgerStatus  PayoutStatus `json:"ledger_status"`
	GatewayStatus string       `json:"gateway_status"`
	Type          MismatchType `json:"mismatch_type"`
	ReferenceID   string       `json:"reference_id"`
}

type ReconciliationReport struct {
	RunID          string     `json:"run_id"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    time.Time  `json:"completed_at"`
	TenantsScanned int        `json:"tenants_scanned"`
	PayoutsChecked int        `json:"payouts_checked"`
	StalePayouts   int        `json:"stale_payouts"`
	GatewayErrors  int        `json:"gateway_errors"`
	Mismatches     []Mismatch `json:"mismatches"`
}
