package polymarket

// client.go: rate-limited HTTP transport shared by the CLOB and Gamma
// adapters. Budgets sit below the published API limits so a settlement
// sweep cannot trip them; transient failures go through the shared retry
// policy and other 4xx responses surface immediately.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/Okay-Bet/market-agent-server/internal/retry"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"

	requestTimeout = 10 * time.Second
)

// Per-second request budgets, roughly 60% of the published limits.
const (
	bookBudget    = rate.Limit(30)  // CLOB /book publishes 500 per 10s
	gammaBudget   = rate.Limit(18)  // Gamma /markets publishes 300 per 10s
	generalBudget = rate.Limit(540) // CLOB general publishes 9000 per 10s
)

// statusError reports a non-2xx response with its body for diagnostics.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, e.body)
}

// transientHTTP classifies retryability: 429 and 5xx responses plus
// network-level failures retry, every other status is terminal.
func transientHTTP(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

// Client is the shared Polymarket transport.
type Client struct {
	http         *http.Client
	clobBase     string
	gammaBase    string
	clobLimiter  *rate.Limiter
	gammaLimiter *rate.Limiter
	booksLimiter *rate.Limiter
	policy       retry.Policy
}

// NewClient creates a Client for the given base URLs. Empty strings select
// the production endpoints.
func NewClient(clobBase, gammaBase string) *Client {
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	if gammaBase == "" {
		gammaBase = defaultGammaBase
	}
	return &Client{
		http:         &http.Client{Timeout: requestTimeout},
		clobBase:     clobBase,
		gammaBase:    gammaBase,
		clobLimiter:  rate.NewLimiter(generalBudget, 50),
		gammaLimiter: rate.NewLimiter(gammaBudget, 10),
		booksLimiter: rate.NewLimiter(bookBudget, 5),
		policy:       retry.Exponential(4, 500*time.Millisecond).WithRetryable(transientHTTP),
	}
}

// get issues a JSON GET under the given limiter.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.roundTrip(ctx, limiter, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}, out)
}

// post issues a JSON POST under the given limiter.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.roundTrip(ctx, limiter, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

// roundTrip runs build/send/decode cycles under the retry policy. The
// request is rebuilt on every attempt so body readers and signed headers
// start fresh.
func (c *Client) roundTrip(ctx context.Context, limiter *rate.Limiter, build func() (*http.Request, error), out any) error {
	return c.policy.Do(ctx, func() error {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := build()
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			slog.Warn("rate limited by API", "url", req.URL.Path)
		}
		if resp.StatusCode >= 400 {
			return &statusError{code: resp.StatusCode, body: string(payload)}
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}
