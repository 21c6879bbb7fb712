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

package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusPending   Status = "PENDING"
	StatusNotFound  Status = "NOT_FOUND"
)

// IsTerminal reports whether the gateway will never change this status again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PayoutRequest is one disbursement instruction. ReferenceID is the
// idempotency key: repeating a request with the same id never pays twice.
type PayoutRequest struct {
	ReferenceID string                  `json:"reference_id"`
	Amount      decimal.Decimal         `json:"amount"`
	Currency    string                  `json:"currency"`
	Destination model.PayoutDestination `json:"destination"`
}

type PayoutResult struct {
	TransactionReference string `json:"transaction_reference"`
	Status               Status `json:"status"`
}

// DeclinedError is an explicit business refusal by the gateway. No money
// moved. Any other error from TriggerPayout leaves the outcome unknown.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payout declined: %s", e.Reason)
}

// IsDeclined reports whether err carries a *DeclinedError.
func IsDeclined(err error) (*DeclinedError, bool) {
	var declined *DeclinedError
	if errors.As(err, &declined) {
		return declined, true
	}
	return nil, false
}

// Gateway moves money to recipients.
type Gateway interface {
	TriggerPayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
	CheckPayoutStatus(ctx context.Context, referenceID string) (Status, error)
}
