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

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/model"
)

const (
	defaultMaxRetries   = 2
	maxLoggedBodyLength = 512
)

// Client hands jobs to the external compute worker over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for dispatch.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithMaxRetries sets how many times a transport failure is retried. Zero disables retries.
func WithMaxRetries(n uint64) Option {
	return func(client *Client) {
		client.maxRetries = n
	}
}

// WithBackOff sets the retry schedule between transport failures.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(client *Client) {
		client.newBackOff = fn
	}
}

// NewClient builds a worker client from the worker section of the configuration.
func NewClient(cfg config.WorkerConfig, opts ...Option) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DEFAULT_WORKER_TIMEOUT_SECONDS * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.ApiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: defaultMaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch posts the request to the worker. Network failures are retried with backoff until ctx
// is done; any non-2xx answer is final.
func (c *Client) Dispatch(ctx context.Context, req model.DispatchRequest) error {
	if c.baseURL == "" {
		return errors.New("worker base url is not configured")
	}

	payload, err := json.Marshal(req.Body())
	if err != nil {
		return errors.Wrap(err, "failed to marshal dispatch payload")
	}
	url := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")

	logger := logrus.WithFields(logrus.Fields{
		"job_id":       req.JobID,
		"feature_kind": req.FeatureKind,
		"worker_url":   url,
	})

	attempt := 0
	operation := func() error {
		attempt++
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "failed to create dispatch request"))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Forge-Job-ID", req.JobID)
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logger.WithError(err).WithField("attempt", attempt).Warn("worker request failed")
			return errors.Wrap(err, "worker request failed")
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBodyLength))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("worker responded with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return err
	}

	logger.WithField("attempts", attempt).Info("job dispatched to worker")
	return nil
}
