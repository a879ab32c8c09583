// Package syncclient is the client-side half of the payment confirmation
// flow. After the user confirms a charge interactively, the webhook that
// activates the subscription may still be in flight, so the client nudges
// the server to re-read the gateway and polls the cached status on a
// bounded schedule instead of waiting on the webhook indefinitely.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Deathvks/AutoGest-sub000/internal/model"
)

// ErrStillProcessing is returned when the poll budget is exhausted before
// the subscription reads active. The payment may still settle; the user
// should reload later rather than retry the payment.
var ErrStillProcessing = errors.New("subscription still processing")

// Config bounds the poll loop. The defaults give 12 attempts with delays
// widening from 1s to a 5s cap, well under a minute in total.
type Config struct {
	BaseURL      string
	Token        string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

type Status struct {
	SubscriptionStatus model.SubscriptionStatus `json:"subscriptionStatus"`
	SubscriptionExpiry *time.Time               `json:"subscriptionExpiry"`
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithSleepFunc replaces the inter-attempt delay, for tests.
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(cl *Client) {
		cl.sleep = fn
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 12
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WaitForActive polls sync + status until the subscription reads active or
// the attempt budget runs out. A sync returning 404 is not terminal: the
// gateway may simply not have settled the new subscription yet.
func (c *Client) WaitForActive(ctx context.Context) (*Status, error) {
	delay := c.cfg.InitialDelay
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
			if delay > c.cfg.MaxDelay {
				delay = c.cfg.MaxDelay
			}
		}

		if err := c.Sync(ctx); err != nil && !errors.Is(err, errNotFound) {
			return nil, err
		}
		status, err := c.Status(ctx)
		if err != nil {
			return nil, err
		}
		if status.SubscriptionStatus == model.StatusActive {
			return status, nil
		}
	}
	return nil, ErrStillProcessing
}

var errNotFound = errors.New("not found")

// Sync asks the server to re-derive its cached state from the gateway.
func (c *Client) Sync(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/subscriptions/sync")
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return errNotFound
	default:
		return fmt.Errorf("sync: status %d", resp.StatusCode)
	}
}

// Status fetches the server's cached subscription state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/subscriptions/status")
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status: status %d", resp.StatusCode)
	}
	var s Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &s, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	return req, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
