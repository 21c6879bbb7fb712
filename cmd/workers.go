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
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/blnkfinance/disburse"
	"github.com/blnkfinance/disburse/config"
	redis_db "github.com/blnkfinance/disburse/internal/redis-db"
	"github.com/blnkfinance/disburse/internal/traces"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeTracing(ctx context.Context, cnf *config.Configuration) (func(context.Context) error, error) {
	if !cnf.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := traces.SetupOTelSDK(ctx, cnf.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func initializeWorkerServer(redisOpt asynq.RedisClientOpt, cnf *config.Configuration) *asynq.Server {
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cnf.Queue.Concurrency,
		Queues:      map[string]int{cnf.Queue.Name: 1},
		Logger:      logrus.StandardLogger(),
	})
}

func initializeScheduler(redisOpt asynq.RedisClientOpt, cnf *config.Configuration) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger: logrus.StandardLogger(),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logrus.WithError(err).Error("failed to enqueue scheduled task")
				return
			}
			logrus.WithFields(logrus.Fields{"task": info.Type, "id": info.ID}).Debug("scheduled task enqueued")
		},
	})
	if err := disburse.RegisterPeriodicTasks(scheduler, cnf); err != nil {
		return nil, err
	}
	return scheduler, nil
}

// startMonitoring serves the asynq dashboard under /monitoring and prometheus
// metrics under /metrics.
func startMonitoring(redisOpt asynq.RedisClientOpt, port string) *asynqmon.HTTPHandler {
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: redisOpt,
	})

	mux := http.NewServeMux()
	mux.Handle(h.RootPath()+"/", h)
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		addr := fmt.Sprintf(":%s", port)
		log.Printf("Monitoring server listening on %s (/monitoring, /metrics)", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("could not start monitoring server: %v", err)
		}
	}()
	return h
}

// workerCommands starts the periodic scheduler and the task workers that run
// the payout relay and reconciliation ticks.
func workerCommands(d *disburseInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start disburse workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			defer d.redis.Close()

			shutdown, err := initializeTracing(ctx, d.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			redisOpt, err := redis_db.AsynqClientOpt(d.cnf.Redis.Dns, d.cnf.Redis.SkipTLSVerify)
			if err != nil {
				log.Fatalf("error parsing Redis URL: %v", err)
			}

			scheduler, err := initializeScheduler(redisOpt, d.cnf)
			if err != nil {
				log.Fatal(err)
			}
			if err := scheduler.Start(); err != nil {
				log.Fatalf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			monitor := startMonitoring(redisOpt, d.cnf.Queue.MonitoringPort)
			defer monitor.Close()

			mux := asynq.NewServeMux()
			d.disburse.RegisterHandlers(mux)

			srv := initializeWorkerServer(redisOpt, d.cnf)
			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
