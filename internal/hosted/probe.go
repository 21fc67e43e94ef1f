// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hosted

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Probe defaults.
const (
	DefaultProbeAttempts = 10
	DefaultProbeInterval = time.Second
	defaultProbeTimeout  = 2 * time.Second
)

// Prober confirms a hosted instance endpoint answers HTTP.
// A 2xx response is ready; transport errors and other statuses are retried.
type Prober struct {
	Client   *http.Client
	Attempts uint64
	Interval time.Duration
}

// NewProber creates a prober with the given attempt budget and pause.
func NewProber(attempts uint64, interval time.Duration) *Prober {
	if attempts == 0 {
		attempts = 1
	}
	return &Prober{
		Client:   &http.Client{Timeout: defaultProbeTimeout},
		Attempts: attempts,
		Interval: interval,
	}
}

// Probe issues GET requests to endpoint until one returns 2xx or the attempts run out.
func (p *Prober) Probe(ctx context.Context, endpoint *url.URL) error {
	budget := p.Attempts
	if budget == 0 {
		budget = 1
	}
	interval := p.Interval
	if interval <= 0 {
		interval = time.Nanosecond
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: defaultProbeTimeout}
	}

	attempts := 0
	backoff := retry.WithMaxRetries(budget-1, retry.NewConstant(interval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		return retry.RetryableError(get(ctx, client, endpoint))
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return oops.With("endpoint", endpoint.String()).Wrap(ctxErr)
	}
	return oops.Code(CodeUnreachableEndpoint).
		With("endpoint", endpoint.String()).
		With("attempts", attempts).
		Wrap(fmt.Errorf("%w: %w", ErrUnreachableEndpoint, err))
}

func get(ctx context.Context, client *http.Client, endpoint *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // body fully drained below
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
