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

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/blnkfinance/disburse"
	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/database"
	"github.com/blnkfinance/disburse/internal/cache"
	"github.com/blnkfinance/disburse/internal/gateway"
	"github.com/blnkfinance/disburse/internal/metrics"
	"github.com/blnkfinance/disburse/internal/notification"
	redis_db "github.com/blnkfinance/disburse/internal/redis-db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Disburse wraps the root cobra command.
type Disburse struct {
	cmd *cobra.Command
}

// disburseInstance is the runtime shared by every subcommand.
type disburseInstance struct {
	disburse *disburse.Disburse
	cnf      *config.Configuration
	redis    *redis_db.Redis
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and builds the service before any command runs.
func preRun(app *disburseInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newDisburse, rdb, err := setupDisburse(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.disburse = newDisburse
		app.redis = rdb
		app.cnf = cnf
		return nil
	}
}

// setupDisburse connects the ledger database and the coordination store and
// wires the configured gateway and ticketing collaborators.
func setupDisburse(cnf *config.Configuration) (*disburse.Disburse, *redis_db.Redis, error) {
	db, err := database.NewDataSource(cnf)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting datasource: %v", err)
	}

	rdb, err := redis_db.NewRedisClient([]string{cnf.Redis.Dns}, cnf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to redis: %v", err)
	}

	gw, err := gateway.New(cnf.Gateway)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("error creating gateway: %v", err)
	}
	if cnf.Reconciliation.StatusCacheTTL > 0 {
		gw = gateway.NewStatusCache(gw, cache.NewCache(rdb.Client()), cnf.Reconciliation.StatusCacheTTL)
	}

	d := disburse.NewDisburse(cnf, db, rdb.Client(), gw,
		disburse.WithMetrics(metrics.NewMetrics(prometheus.DefaultRegisterer)),
		disburse.WithTicketer(notification.NewTicketer(cnf.Notification)),
	)
	return d, rdb, nil
}

// NewCLI builds the root command and its subcommands.
func NewCLI() *Disburse {
	var configFile string
	d := &disburseInstance{}

	rootCmd := &cobra.Command{
		Use:   "disburse",
		Short: "Payout disbursement and reconciliation",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./disburse.json", "Configuration file for disburse")
	rootCmd.PersistentPreRunE = preRun(d, &configFile)

	rootCmd.AddCommand(workerCommands(d))
	rootCmd.AddCommand(relayCommand(d))
	rootCmd.AddCommand(reconcileCommand(d))
	rootCmd.AddCommand(migrateCommands(d))
	rootCmd.AddCommand(configCommand(d))

	return &Disburse{cmd: rootCmd}
}

func (w Disburse) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
