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

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// jsonDuration reads a duration written either as a Go duration string
// ("5m", "1h30m") or as integer nanoseconds.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = jsonDuration(parsed)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s: %w", data, err)
	}
	*d = jsonDuration(n)
	return nil
}

func (g *GatewayConfig) UnmarshalJSON(data []byte) error {
	type Alias GatewayConfig
	aux := struct {
		*Alias
		Timeout jsonDuration `json:"timeout"`
	}{Alias: (*Alias)(g), Timeout: jsonDuration(g.Timeout)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	g.Timeout = time.Duration(aux.Timeout)
	return nil
}

func (p *PayoutConfig) UnmarshalJSON(data []byte) error {
	type Alias PayoutConfig
	aux := struct {
		*Alias
		LockTTL        jsonDuration `json:"lock_ttl"`
		LockRetryDelay jsonDuration `json:"lock_retry_delay"`
	}{Alias: (*Alias)(p), LockTTL: jsonDuration(p.LockTTL), LockRetryDelay: jsonDuration(p.LockRetryDelay)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.LockTTL = time.Duration(aux.LockTTL)
	p.LockRetryDelay = time.Duration(aux.LockRetryDelay)
	return nil
}

func (r *ReconciliationConfig) UnmarshalJSON(data []byte) error {
	type Alias ReconciliationConfig
	aux := struct {
		*Alias
		StaleThreshold jsonDuration `json:"stale_threshold"`
		LockTTL        jsonDuration `json:"lock_ttl"`
		StatusCacheTTL jsonDuration `json:"status_cache_ttl"`
	}{
		Alias:          (*Alias)(r),
		StaleThreshold: jsonDuration(r.StaleThreshold),
		LockTTL:        jsonDuration(r.LockTTL),
		StatusCacheTTL: jsonDuration(r.StatusCacheTTL),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.StaleThreshold = time.Duration(aux.StaleThreshold)
	r.LockTTL = time.Duration(aux.LockTTL)
	r.StatusCacheTTL = time.Duration(aux.StatusCacheTTL)
	return nil
}
