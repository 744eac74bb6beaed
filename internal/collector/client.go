// Package collector delivers daily aggregates to the remote usage collector.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/janekbaraniewski/usagesync/internal/usage"
)

const (
	dailyEndpoint      = "/v1/usage/daily"
	defaultTimeout     = 5 * time.Second
	defaultConcurrency = 4
	maxErrorBody       = 512
)

var (
	ErrMissingAPIBase = errors.New("collector: api base is not configured")
	ErrNotLinked      = errors.New("collector: device is not linked")
)

// DeliveryError is returned for a non-2xx collector response.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("collector: delivery failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("collector: delivery failed: HTTP %d: %s", e.StatusCode, e.Body)
}

type Options struct {
	APIBase       string
	Auth          Auth
	Identity      Identity
	Timeout       time.Duration
	Concurrency   int
	RatePerSecond float64
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

type Client struct {
	apiBase     string
	auth        Auth
	identity    Identity
	timeout     time.Duration
	concurrency int
	limiter     *rate.Limiter
	http        *http.Client
	log         *zap.Logger
}

// New validates the delivery prerequisites. It returns ErrMissingAPIBase or
// ErrNotLinked when delivery cannot happen at all.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.APIBase), "/")
	if base == "" {
		return nil, ErrMissingAPIBase
	}
	if opts.Auth.IsZero() {
		return nil, ErrNotLinked
	}

	c := &Client{
		apiBase:     base,
		auth:        opts.Auth,
		identity:    opts.Identity,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		http:        opts.HTTPClient,
		log:         opts.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if opts.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return c, nil
}

func (c *Client) APIBase() string { return c.apiBase }

type payload struct {
	usage.Aggregate
	Identity
}

// Deliver posts one aggregate. Only a 2xx response counts as acknowledged.
func (c *Client) Deliver(ctx context.Context, a usage.Aggregate) error {
	body, err := json.Marshal(payload{Aggregate: a, Identity: c.identity})
	if err != nil {
		return fmt.Errorf("collector: marshal aggregate: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+dailyEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("collector: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth.apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("collector: post %s: %w", a.Key(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &DeliveryError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Outcome is the delivery result for one item.
type Outcome struct {
	Aggregate usage.Aggregate
	Err       error
}

func (o Outcome) Acknowledged() bool { return o.Err == nil }

// DeliverAll delivers every item independently with bounded overlap and
// returns one outcome per item, in input order. A failed item never stops the
// others.
func (c *Client) DeliverAll(ctx context.Context, items []usage.Aggregate) []Outcome {
	outcomes := make([]Outcome, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, a := range items {
		outcomes[i].Aggregate = a
		g.Go(func() error {
			if c.limiter != nil {
				if err := c.limiter.Wait(gctx); err != nil {
					outcomes[i].Err = fmt.Errorf("collector: rate limit: %w", err)
					return nil
				}
			}
			err := c.Deliver(gctx, a)
			if err != nil {
				c.log.Warn("delivery failed",
					zap.String("event", "delivery_failed"),
					zap.String("key", a.Key()),
					zap.Error(err))
			}
			outcomes[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
