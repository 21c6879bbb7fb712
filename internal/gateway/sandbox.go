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
	"fmt"
	"sync"

	"github.com/blnkfinance/disburse/model"
)

type sandboxRecord struct {
	result *PayoutResult
	err    error
}

// Sandbox is an in-memory gateway. Each reference id is executed at most once;
// repeating a trigger returns the first outcome.
type Sandbox struct {
	mu              sync.Mutex
	records         map[string]sandboxRecord
	statuses        map[string]Status
	declines        map[string]string
	held            map[string]bool
	transportErrors map[string]error
	calls           map[string]int
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		records:         make(map[string]sandboxRecord),
		statuses:        make(map[string]Status),
		declines:        make(map[string]string),
		held:            make(map[string]bool),
		transportErrors: make(map[string]error),
		calls:           make(map[string]int),
	}
}

// Decline makes the next trigger for referenceID a business refusal.
func (s *Sandbox) Decline(referenceID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declines[referenceID] = reason
}

// Hold makes the gateway accept triggers for referenceID without settling
// them: the result is PENDING until SetStatus moves it on.
func (s *Sandbox) Hold(referenceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held[referenceID] = true
}

// FailTransport makes triggers for referenceID fail with err until cleared
// with a nil err. Nothing is recorded, as if the request never arrived.
func (s *Sandbox) FailTransport(referenceID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.transportErrors, referenceID)
		return
	}
	s.transportErrors[referenceID] = err
}

// SetStatus overrides what CheckPayoutStatus reports for referenceID.
func (s *Sandbox) SetStatus(referenceID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[referenceID] = status
}

// Calls returns how many times TriggerPayout was invoked for referenceID.
func (s *Sandbox) Calls(referenceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[referenceID]
}

func (s *Sandbox) TriggerPayout(_ context.Context, req PayoutRequest) (*PayoutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[req.ReferenceID]++
	if err, ok := s.transportErrors[req.ReferenceID]; ok {
		return nil, err
	}
	if rec, ok := s.records[req.ReferenceID]; ok {
		if rec.result != nil && rec.result.Status != s.statuses[req.ReferenceID] {
			if s.statuses[req.ReferenceID] == StatusFailed {
				return nil, &DeclinedError{Reason: "payout failed at gateway"}
			}
			settled := *rec.result
			settled.Status = s.statuses[req.ReferenceID]
			return &settled, nil
		}
		return rec.result, rec.err
	}

	if reason, ok := s.declines[req.ReferenceID]; ok {
		rec := sandboxRecord{err: &DeclinedError{Reason: reason}}
		s.records[req.ReferenceID] = rec
		s.statuses[req.ReferenceID] = StatusFailed
		return nil, rec.err
	}

	status := StatusCompleted
	if s.held[req.ReferenceID] {
		status = StatusPending
	}
	result := &PayoutResult{
		TransactionReference: model.GenerateUUIDWithSuffix("gtx"),
		Status:               status,
	}
	s.records[req.ReferenceID] = sandboxRecord{result: result}
	s.statuses[req.ReferenceID] = status
	return result, nil
}

func (s *Sandbox) CheckPayoutStatus(_ context.Context, referenceID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if referenceID == "" {
		return "", fmt.Errorf("reference id is required")
	}
	if status, ok := s.statuses[referenceID]; ok {
		return status, nil
	}
	return StatusNotFound, nil
}
