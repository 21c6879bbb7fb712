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
	"time"

	"github.com/blnkfinance/disburse/internal/cache"
	"github.com/sirupsen/logrus"
)

const statusCacheKeyPrefix = "payout-status:"

// StatusCache remembers terminal gateway statuses. PENDING and NOT_FOUND are
// always fetched fresh.
type StatusCache struct {
	Gateway
	cache cache.Cache
	ttl   time.Duration
}

func NewStatusCache(gw Gateway, c cache.Cache, ttl time.Duration) *StatusCache {
	return &StatusCache{Gateway: gw, cache: c, ttl: ttl}
}

func (s *StatusCache) CheckPayoutStatus(ctx context.Context, referenceID string) (Status, error) {
	key := statusCacheKeyPrefix + referenceID

	var cached Status
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		logrus.WithError(err).WithField("reference_id", referenceID).Warn("status cache read failed")
	}
	if found && cached.IsTerminal() {
		return cached, nil
	}

	status, err := s.Gateway.CheckPayoutStatus(ctx, referenceID)
	if err != nil {
		return "", err
	}

	if status.IsTerminal() {
		if err := s.cache.Set(ctx, key, status, s.ttl); err != nil {
			logrus.WithError(err).WithField("reference_id", referenceID).Warn("status cache write failed")
		}
	}
	return status, nil
}
