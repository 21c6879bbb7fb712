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
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_METRICS_PORT = "5005"

	GatewayProviderHTTP    = "http"
	GatewayProviderSandbox = "sandbox"
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"DISBURSE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"DISBURSE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"DISBURSE_REDIS_SKIP_TLS_VERIFY"`
}

type GatewayConfig struct {
	Provider string        `json:"provider" envconfig:"DISBURSE_GATEWAY_PROVIDER"`
	BaseURL  string        `json:"base_url" envconfig:"DISBURSE_GATEWAY_BASE_URL"`
	APIKey   string        `json:"api_key" envconfig:"DISBURSE_GATEWAY_API_KEY"`
	Timeout  time.Duration `json:"timeout" envconfig:"DISBURSE_GATEWAY_TIMEOUT"`
}

type PayoutConfig struct {
	RelaySchedule  string        `json:"relay_schedule" envconfig:"DISBURSE_PAYOUT_RELAY_SCHEDULE"`
	BatchSize      int           `json:"batch_size" envconfig:"DISBURSE_PAYOUT_BATCH_SIZE"`
	LockTTL        time.Duration `json:"lock_ttl" envconfig:"DISBURSE_PAYOUT_LOCK_TTL"`
	LockMaxRetries int           `json:"lock_max_retries" envconfig:"DISBURSE_PAYOUT_LOCK_MAX_RETRIES"`
	LockRetryDelay time.Duration `json:"lock_retry_delay" envconfig:"DISBURSE_PAYOUT_LOCK_RETRY_DELAY"`
}

type ReconciliationConfig struct {
	Schedule       string        `json:"schedule" envconfig:"DISBURSE_RECONCILIATION_SCHEDULE"`
	StaleThreshold time.Duration `json:"stale_threshold" envconfig:"DISBURSE_RECONCILIATION_STALE_THRESHOLD"`
	BatchSize      int           `json:"batch_size" envconfig:"DISBURSE_RECONCILIATION_BATCH_SIZE"`
	LockTTL        time.Duration `json:"lock_ttl" envconfig:"DISBURSE_RECONCILIATION_LOCK_TTL"`
	StatusCacheTTL time.Duration `json:"status_cache_ttl" envconfig:"DISBURSE_RECONCILIATION_STATUS_CACHE_TTL"`
}

type QueueConfig struct {
	Name           string `json:"name" envconfig:"DISBURSE_QUEUE_NAME"`
	Concurrency    int    `json:"concurrency" envconfig:"DISBURSE_QUEUE_CONCURRENCY"`
	MonitoringPort string `json:"monitoring_port" envconfig:"DISBURSE_QUEUE_MONITORING_PORT"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"DISBURSE_SLACK_WEBHOOK_URL"`
}

type TicketWebhook struct {
	Url     string            `json:"url" envconfig:"DISBURSE_TICKET_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack  SlackWebhook  `json:"slack"`
	Ticket TicketWebhook `json:"ticket"`
}

type Configuration struct {
	ProjectName     string               `json:"project_name" envconfig:"DISBURSE_PROJECT_NAME"`
	EnableTelemetry bool                 `json:"enable_telemetry" envconfig:"DISBURSE_ENABLE_TELEMETRY"`
	DataSource      DataSourceConfig     `json:"data_source"`
	Redis           RedisConfig          `json:"redis"`
	Gateway         GatewayConfig        `json:"gateway"`
	Payout          PayoutConfig         `json:"payout"`
	Reconciliation  ReconciliationConfig `json:"reconciliation"`
	Queue           QueueConfig          `json:"queue"`
	Notification    Notification         `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("disburse", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called disburse.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Disburse"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Gateway.Provider = strings.ToLower(strings.TrimSpace(cnf.Gateway.Provider))

	if err := cnf.Gateway.addDefaults(); err != nil {
		return err
	}
	cnf.Payout.addDefaults()
	// the relay re-arms its lease once per payout, so one gateway call must fit in it
	if cnf.Payout.LockTTL <= cnf.Gateway.Timeout {
		return errors.New("payout lock TTL must be longer than the gateway timeout")
	}

	if err := cnf.Reconciliation.addDefaults(cnf.Payout); err != nil {
		return err
	}

	if cnf.Queue.Name == "" {
		cnf.Queue.Name = "disburse_schedules"
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 2
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DEFAULT_METRICS_PORT
	}

	return nil
}

func (g *GatewayConfig) addDefaults() error {
	if g.Provider == "" {
		g.Provider = GatewayProviderHTTP
	}
	switch g.Provider {
	case GatewayProviderHTTP:
		if g.BaseURL == "" {
			return errors.New("gateway base url is required for the http provider")
		}
	case GatewayProviderSandbox:
		log.Println("Warning: using the sandbox payment gateway. No money will move.")
	default:
		return errors.New("unknown gateway provider " + g.Provider)
	}
	if g.Timeout <= 0 {
		g.Timeout = 30 * time.Second
	}
	return nil
}

func (p *PayoutConfig) addDefaults() {
	if p.RelaySchedule == "" {
		p.RelaySchedule = "@every 1m"
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 50
	}
	if p.LockTTL <= 0 {
		p.LockTTL = 5 * time.Minute
	}
	if p.LockMaxRetries < 0 {
		p.LockMaxRetries = 0
	}
	if p.LockRetryDelay <= 0 {
		p.LockRetryDelay = 200 * time.Millisecond
	}
}

func (r *ReconciliationConfig) addDefaults(payout PayoutConfig) error {
	if r.Schedule == "" {
		r.Schedule = "0 2 * * *"
	}
	if r.StaleThreshold <= 0 {
		r.StaleThreshold = 24 * time.Hour
	}
	// a stale payout must have missed many relay ticks, not merely be waiting for the next one
	if r.StaleThreshold < 4*payout.LockTTL {
		return errors.New("reconciliation stale threshold must be at least four payout lock TTLs")
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 500
	}
	if r.LockTTL <= 0 {
		r.LockTTL = 2 * time.Hour
	}
	if r.StatusCacheTTL <= 0 {
		r.StatusCacheTTL = 24 * time.Hour
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
