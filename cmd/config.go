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
	"encoding/json"
	"fmt"
	"log"

	"github.com/blnkfinance/disburse/config"
	"github.com/spf13/cobra"
)

const redacted = "********"

// redactConfig returns a copy of cnf that is safe to print.
func redactConfig(cnf config.Configuration) config.Configuration {
	if cnf.Gateway.APIKey != "" {
		cnf.Gateway.APIKey = redacted
	}
	if len(cnf.Notification.Ticket.Headers) > 0 {
		headers := make(map[string]string, len(cnf.Notification.Ticket.Headers))
		for k := range cnf.Notification.Ticket.Headers {
			headers[k] = redacted
		}
		cnf.Notification.Ticket.Headers = headers
	}
	return cnf
}

func configCommand(d *disburseInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "print the effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			data, err := json.MarshalIndent(redactConfig(*d.cnf), "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}
