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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

func nonNegativeAmount(value interface{}) error {
	amount, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("invalid amount type")
	}
	if amount.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}

// Validate checks the destination carries everything the gateway needs.
func (d PayoutDestination) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.BankAccount, validation.Required),
		validation.Field(&d.ReferenceID, validation.Required),
	)
}

func (r *CreatePayoutRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RecipientID, validation.Required),
		validation.Field(&r.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&r.BaseAmount, validation.By(nonNegativeAmount)),
		validation.Field(&r.ScheduledDate, validation.Required),
		validation.Field(&r.Destination),
	)
}
