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
	"embed"
	"time"

	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/database"
	"github.com/blnkfinance/disburse/internal/gateway"
	redlock "github.com/blnkfinance/disburse/internal/lock"
	"github.com/blnkfinance/disburse/internal/metrics"
	"github.com/blnkfinance/disburse/internal/notification"
	"github.com/redis/go-redis/v9"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Disburse advances payouts through the gateway and reconciles the ledger
// against it. Every periodic entry point is guarded by a coordination lock so
// any number of worker processes may call it.
type Disburse struct {
	config     *config.Configuration
	datasource database.IDataSource
	locker     *redlock.Locker
	gateway    gateway.Gateway
	ticketer   notification.Ticketer
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*Disburse)

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Disburse) {
		d.metrics = m
	}
}

func WithTicketer(t notification.Ticketer) Option {
	return func(d *Disburse) {
		d.ticketer = t
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Disburse) {
		d.now = now
	}
}

// NewDisburse wires the service. Without WithTicketer, tickets go to the log.
func NewDisburse(cnf *config.Configuration, db database.IDataSource, redisClient redis.UniversalClient, gw gateway.Gateway, opts ...Option) *Disburse {
	d := &Disburse{
		config:     cnf,
		datasource: db,
		gateway:    gw,
		ticketer:   notification.LogTicketer{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	var lockOpts []redlock.Option
	if d.metrics != nil {
		lockOpts = append(lockOpts, redlock.WithRecorder(d.metrics))
	}
	d.locker = redlock.NewLocker(redisClient, lockOpts...)
	return d
}

