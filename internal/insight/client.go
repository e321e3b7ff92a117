// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/opentrusty/insightd/internal/tenant"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	generatePath    = "/api/insights/generate"
	retryFailedPath = "/api/insights/retry-failed"

	// maxResponseBytes bounds how much of a response body is read
	maxResponseBytes = 1 << 20
)

// ClientConfig holds insight service client configuration
type ClientConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// Client calls the remote insight computation service over HTTP.
// It implements UnitOfWork and Retrier.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// NewClient creates a new insight service client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("insight service base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiToken: cfg.APIToken,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
					return "insight " + r.URL.Path
				}),
			),
		},
	}, nil
}

type organizationRequest struct {
	OrganizationID string `json:"organization_id"`
}

type generateResponse struct {
	InsightsCreated *int `json:"insights_created"`
}

type retryFailedResponse struct {
	Retried   *int `json:"retried"`
	Succeeded *int `json:"succeeded"`
}

// Generate asks the service to regenerate insights for one tenant
func (c *Client) Generate(ctx context.Context, t tenant.Tenant) (WorkResult, error) {
	var resp generateResponse
	if err := c.post(ctx, generatePath, t.ID, &resp); err != nil {
		return WorkResult{}, err
	}
	if resp.InsightsCreated == nil {
		return WorkResult{}, &UnitOfWorkError{Kind: KindMalformed, Err: errors.New("missing insights_created")}
	}
	if *resp.InsightsCreated < 0 {
		return WorkResult{}, &UnitOfWorkError{Kind: KindMalformed, Err: fmt.Errorf("negative insights_created %d", *resp.InsightsCreated)}
	}
	return WorkResult{ItemsProduced: *resp.InsightsCreated}, nil
}

// RetryFailed asks the service to retry previously failed items for one tenant
func (c *Client) RetryFailed(ctx context.Context, tenantID string) (RetryResult, error) {
	var resp retryFailedResponse
	if err := c.post(ctx, retryFailedPath, tenantID, &resp); err != nil {
		return RetryResult{}, err
	}
	if resp.Retried == nil || resp.Succeeded == nil {
		return RetryResult{}, &UnitOfWorkError{Kind: KindMalformed, Err: errors.New("missing retried or succeeded")}
	}
	if *resp.Retried < 0 || *resp.Succeeded < 0 || *resp.Succeeded > *resp.Retried {
		return RetryResult{}, &UnitOfWorkError{Kind: KindMalformed, Err: fmt.Errorf("inconsistent counts retried=%d succeeded=%d", *resp.Retried, *resp.Succeeded)}
	}
	return RetryResult{Retried: *resp.Retried, Succeeded: *resp.Succeeded}, nil
}

func (c *Client) post(ctx context.Context, path, tenantID string, out any) error {
	body, err := json.Marshal(organizationRequest{OrganizationID: tenantID})
	if err != nil {
		return &UnitOfWorkError{Kind: KindTransport, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &UnitOfWorkError{Kind: KindTransport, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return &UnitOfWorkError{Kind: KindTimeout, Err: err}
		}
		return &UnitOfWorkError{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return &UnitOfWorkError{Kind: KindTimeout, Err: err}
		}
		return &UnitOfWorkError{Kind: KindTransport, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UnitOfWorkError{
			Kind:       KindRejected,
			StatusCode: resp.StatusCode,
			Err:        errors.New(errorMessage(data, resp.Status)),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &UnitOfWorkError{Kind: KindMalformed, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// errorMessage extracts {"error": "..."} from a failure body, falling back to the status line
func errorMessage(body []byte, status string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return status
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
