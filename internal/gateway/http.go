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
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blnkfinance/disburse/internal/request"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("Payment gateway")

type triggerResponse struct {
	TransactionReference string `json:"transaction_reference"`
	Status               Status `json:"status"`
	Message              string `json:"message"`
}

type statusResponse struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// HTTPGateway talks to a gateway exposing POST /payouts and
// GET /payouts/{reference_id}.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) headers() map[string]string {
	if g.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + g.apiKey}
}

// isBusinessRejection reports whether a 4xx status means the gateway refused
// the payout outright. Timeouts, conflicts and rate limits say nothing about
// whether the payout went through.
func isBusinessRejection(statusCode int) bool {
	switch statusCode {
	case http.StatusBadRequest, http.StatusPaymentRequired, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// TriggerPayout submits a payout to the gateway.
//
// Parameters:
// - ctx: request context, also used for the outbound HTTP call.
// - req: the payout, keyed by its reference id for idempotency.
//
// Returns:
// - *PayoutResult: the gateway's reference and status on a 2xx answer. The
//   status may be PENDING when the gateway accepted but has not settled.
// - error: *DeclinedError for 400, 402 and 422 or an explicit FAILED result.
//   Any other non-2xx answer or a network failure is a plain error, since the
//   gateway may or may not have acted.
func (g *HTTPGateway) TriggerPayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	ctx, span := tracer.Start(ctx, "Triggering payout")
	defer span.End()
	span.SetAttributes(attribute.String("reference_id", req.ReferenceID))

	httpReq, err := request.NewJSONRequest(ctx, http.MethodPost, g.baseURL+"/payouts", req, g.headers())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var body triggerResponse
	resp, err := request.Call(g.client, httpReq, &body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway unreachable")
		return nil, fmt.Errorf("trigger payout %s: %w", req.ReferenceID, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= 500:
		span.SetStatus(codes.Error, "gateway error")
		return nil, fmt.Errorf("trigger payout %s: gateway returned status %d", req.ReferenceID, resp.StatusCode)
	case isBusinessRejection(resp.StatusCode):
		return nil, &DeclinedError{Reason: declineReason(body.Message, resp.StatusCode)}
	case !request.IsSuccess(resp.StatusCode):
		span.SetStatus(codes.Error, "gateway outcome unknown")
		return nil, fmt.Errorf("trigger payout %s: gateway returned status %d", req.ReferenceID, resp.StatusCode)
	case body.Status == StatusFailed:
		return nil, &DeclinedError{Reason: declineReason(body.Message, resp.StatusCode)}
	}

	status := body.Status
	if status == "" {
		status = StatusCompleted
	}
	return &PayoutResult{TransactionReference: body.TransactionReference, Status: status}, nil
}

func declineReason(message string, statusCode int) string {
	if message != "" {
		return message
	}
	return fmt.Sprintf("gateway returned status %d", statusCode)
}

func (g *HTTPGateway) CheckPayoutStatus(ctx context.Context, referenceID string) (Status, error) {
	ctx, span := tracer.Start(ctx, "Checking payout status")
	defer span.End()
	span.SetAttributes(attribute.String("reference_id", referenceID))

	httpReq, err := request.NewJSONRequest(ctx, http.MethodGet, g.baseURL+"/payouts/"+url.PathEscape(referenceID), nil, g.headers())
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	var body statusResponse
	resp, err := request.Call(g.client, httpReq, &body)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return StatusNotFound, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway unreachable")
		return "", fmt.Errorf("check payout status %s: %w", referenceID, err)
	}
	if !request.IsSuccess(resp.StatusCode) {
		span.SetStatus(codes.Error, "gateway error")
		return "", fmt.Errorf("check payout status %s: gateway returned status %d", referenceID, resp.StatusCode)
	}

	switch body.Status {
	case StatusCompleted, StatusFailed, StatusPending, StatusNotFound:
		return body.Status, nil
	default:
		return "", fmt.Errorf("check payout status %s: unknown status %q", referenceID, body.Status)
	}
}
