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
	"time"

	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/internal/request"
	"github.com/sirupsen/logrus"
)

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func newSlackMessage(header string, fields map[string]string, order []string) slackMessage {
	msg := slackMessage{Blocks: []slackBlock{{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: header, Emoji: true},
	}}}
	for _, name := range order {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:   "section",
			Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", name, fields[name])}},
		})
	}
	return msg
}

func postSlack(ctx context.Context, client *http.Client, webhookURL string, msg slackMessage) error {
	req, err := request.NewJSONRequest(ctx, http.MethodPost, webhookURL, msg, nil)
	if err != nil {
		return err
	}
	resp, err := request.Call(client, req, nil)
	if err != nil {
		return err
	}
	if !request.IsSuccess(resp.StatusCode) {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackNotification posts err to the configured Slack webhook.
func SlackNotification(err error) {
	conf, cfgErr := config.Fetch()
	if cfgErr != nil {
		logrus.Error(cfgErr)
		return
	}

	msg := newSlackMessage(fmt.Sprintf("Error From %s", conf.ProjectName), map[string]string{
		"Error": err.Error(),
		"Time":  time.Now().Format(time.RFC822),
	}, []string{"Error", "Time"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if postErr := postSlack(ctx, nil, conf.Notification.Slack.WebhookUrl, msg); postErr != nil {
		logrus.WithError(postErr).Error("failed to send slack notification")
	}
}

// NotifyError logs systemError and, when Slack is configured, forwards it
// there without blocking the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			logrus.Error(err)
			return
		}

		if conf.Notification.Slack.WebhookUrl != "" {
			SlackNotification(systemError)
		}
	}(systemError)
}
