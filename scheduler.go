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

	"github.com/blnkfinance/disburse/config"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	TypePayoutRelay    = "disburse:payout_relay"
	TypeReconciliation = "disburse:reconciliation"
)

// RegisterPeriodicTasks schedules the relay and reconciliation ticks. Every
// worker may run a scheduler; the coordination lock lets only one tick of
// each kind do work at a time.
func RegisterPeriodicTasks(scheduler *asynq.Scheduler, cnf *config.Configuration) error {
	opts := []asynq.Option{asynq.Queue(cnf.Queue.Name), asynq.MaxRetry(0)}

	if _, err := scheduler.Register(cnf.Payout.RelaySchedule, asynq.NewTask(TypePayoutRelay, nil), opts...); err != nil {
		return fmt.Errorf("register payout relay schedule: %w", err)
	}
	if _, err := scheduler.Register(cnf.Reconciliation.Schedule, asynq.NewTask(TypeReconciliation, nil), opts...); err != nil {
		return fmt.Errorf("register reconciliation schedule: %w", err)
	}
	return nil
}

// RegisterHandlers attaches the tick handlers to mux.
func (d *Disburse) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypePayoutRelay, d.HandlePayoutRelay)
	mux.HandleFunc(TypeReconciliation, d.HandleReconciliation)
}

// HandlePayoutRelay runs one relay tick. Failures are logged and not retried
// by the queue; the next scheduled tick picks the work up again.
func (d *Disburse) HandlePayoutRelay(ctx context.Context, _ *asynq.Task) error {
	if _, err := d.RunPayoutRelay(ctx); err != nil {
		logrus.WithError(err).Error("payout relay tick failed")
		return fmt.Errorf("payout relay: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}

func (d *Disburse) HandleReconciliation(ctx context.Context, _ *asynq.Task) error {
	if _, err := d.RunReconciliation(ctx); err != nil {
		logrus.WithError(err).Error("reconciliation sweep failed")
		return fmt.Errorf("reconciliation: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}
