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

package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/internal/request"
	"github.com/sirupsen/logrus"
)

type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Ticket is an operator-facing work item.
type Ticket struct {
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Priority Priority               `json:"priority"`
	Labels   []string               `json:"labels"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Ticketer creates operator tickets.
type Ticketer interface {
	CreateTicket(ctx context.Context, ticket Ticket) error
}

// WebhookTicketer posts tickets as JSON to a ticketing endpoint. Critical
// tickets are mirrored to Slack when a Slack webhook is configured.
type WebhookTicketer struct {
	url      string
	headers  map[string]string
	slackURL string
	client   *http.Client
}

func NewWebhookTicketer(url string, headers map[string]string, slackURL string, client *http.Client) *WebhookTicketer {
	return &WebhookTicketer{url: url, headers: headers, slackURL: slackURL, client: client}
}

func (w *WebhookTicketer) CreateTicket(ctx context.Context, ticket Ticket) error {
	req, err := request.NewJSONRequest(ctx, http.MethodPost, w.url, ticket, w.headers)
	if err != nil {
		return err
	}
	resp, err := request.Call(w.client, req, nil)
	if err != nil {
		return fmt.Errorf("ticket webhook: %w", err)
	}
	if !request.IsSuccess(resp.StatusCode) {
		return fmt.Errorf("ticket webhook returned status %d", resp.StatusCode)
	}

	if ticket.Priority == PriorityCritical && w.slackURL != "" {
		msg := newSlackMessage(ticket.Title, map[string]string{
			"Priority": string(ticket.Priority),
			"Labels":   strings.Join(ticket.Labels, ", "),
			"Details":  ticket.Body,
		}, []string{"Priority", "Labels", "Details"})
		if err := postSlack(ctx, w.client, w.slackURL, msg); err != nil {
			// the ticket exists; a failed mirror is not a failed ticket
			logrus.WithError(err).WithField("title", ticket.Title).Warn("failed to mirror critical ticket to slack")
		}
	}
	return nil
}

// LogTicketer writes tickets to the log. Used when no ticketing endpoint is
// configured.
type LogTicketer struct{}

func (LogTicketer) CreateTicket(_ context.Context, ticket Ticket) error {
	entry := logrus.WithFields(logrus.Fields{
		"ticket_title": ticket.Title,
		"priority":     ticket.Priority,
		"labels":       ticket.Labels,
		"metadata":     ticket.Metadata,
	})
	if ticket.Priority == PriorityCritical {
		entry.Error(ticket.Body)
		return nil
	}
	entry.Warn(ticket.Body)
	return nil
}

// NewTicketer picks the webhook ticketer when a ticket url is configured.
func NewTicketer(cnf config.Notification) Ticketer {
	if cnf.Ticket.Url == "" {
		return LogTicketer{}
	}
	return NewWebhookTicketer(cnf.Ticket.Url, cnf.Ticket.Headers, cnf.Slack.WebhookUrl, nil)
}
