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
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
)

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		log.Fatalf("Error printing result: %v\n", err)
	}
	fmt.Println(string(data))
}

// relayCommand runs a single relay tick outside the scheduler.
func relayCommand(d *disburseInstance) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "run one payout relay tick",
		Run: func(cmd *cobra.Command, args []string) {
			defer d.redis.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			summary, err := d.disburse.RunPayoutRelay(ctx)
			if err != nil {
				log.Fatalf("payout relay failed: %v", err)
			}
			printJSON(summary)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "maximum duration of the tick")
	return cmd
}

// reconcileCommand runs a single reconciliation sweep and prints its report.
func reconcileCommand(d *disburseInstance) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "run one reconciliation sweep",
		Run: func(cmd *cobra.Command, args []string) {
			defer d.redis.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			report, err := d.disburse.RunReconciliation(ctx)
			if err != nil {
				log.Fatalf("reconciliation failed: %v", err)
			}
			if report == nil {
				fmt.Println("reconciliation skipped: another worker holds the lock")
				return
			}
			printJSON(report)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Hour, "maximum duration of the sweep")
	return cmd
}
