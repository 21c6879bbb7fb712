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

type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "PENDING"
	PayoutStatusCompleted PayoutStatus = "COMPLETED"
	PayoutStatusFailed    PayoutStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutStatusCompleted || s == PayoutStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
// Only PENDING may move, and only to a terminal status.
func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	return s == PayoutStatusPending && next.IsTerminal()
}

// Metadata keys carried on a payout.
const (
	MetaUserID        = "userId"
	MetaRecipientName = "recipientName"
	MetaBankAccount   = "bankAccount"
	MetaBankCode      = "bankCode"
	MetaReferenceID   = "referenceId"
)

type Payout struct {
	PayoutID      string                 `json:"payout_id"`
	TenantID      string                 `json:"tenant_id"`
	RecipientID   string                 `json:"recipient_id"`
	Amount        decimal.Decimal        `json:"amount"`
	Commission    decimal.Decimal        `json:"commission"`
	Currency      string                 `json:"currency"`
	Status        PayoutStatus           `json:"status"`
	ScheduledDate time.Time              `json:"scheduled_date"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
	Notes         string                 `json:"notes,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// metaString returns the metadata value for key when it is a non-empty string.
func (p *Payout) metaString(key string) string {
	if p.MetaData == nil {
		return ""
	}
	v, ok := p.MetaData[key].(string)
	if !ok {
		return ""
	}
	return v
}

// MetaRecipientID returns the wallet owner recorded in the payout metadata, if any.
func (p *Payout) MetaRecipientID() string {
	return p.metaString(MetaUserID)
}

// ReferenceID returns the gateway idempotency key for the payout. Payouts created
// without an explicit reference fall back to their own id, which is equally stable.
func (p *Payout) ReferenceID() string {
	if ref := p.metaString(MetaReferenceID); ref != "" {
		return ref
	}
	return p.PayoutID
}

// Destination extracts the gateway destination from the payout metadata.
// It does not validate; see PayoutDestination.Validate.
func (p *Payout) Destination() PayoutDestination {
	return PayoutDestination{
		RecipientName: p.metaString(MetaRecipientName),
		BankAccount:   p.metaString(MetaBankAccount),
		BankCode:      p.metaString(MetaBankCode),
		ReferenceID:   p.ReferenceID(),
	}
}

// AppendNote adds a line to the free-text notes.
func (p *Payout) AppendNote(note string) {
	if p.Notes == "" {
		p.Notes = note
		return
	}
	p.Notes = p.Notes + "\n" + note
}

// PayoutDestination is where the gateway should send the funds.
type PayoutDestination struct {
	RecipientName string `json:"recipient_name,omitempty"`
	BankAccount   string `json:"bank_account"`
	BankCode      string `json:"bank_code,omitempty"`
	ReferenceID   string `json:"reference_id"`
}

// CreatePayoutRequest describes a payout to be cut from a recipient's payable balance.
type CreatePayoutRequest struct {
	RecipientID   string            `json:"recipient_id"`
	BaseAmount    decimal.Decimal   `json:"base_amount"`
	Currency      string            `json:"currency"`
	ScheduledDate time.Time         `json:"scheduled_date"`
	Destination   PayoutDestination `json:"destination"`
	Notes         string            `json:"notes,omitempty"`
}
