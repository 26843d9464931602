// Package gateway is the settlement gateway client. It POSTs
// SettlementInstructions with an Idempotency-Key header and a
// retry policy: exponential backoff from a configured minimum, capped
// at a configured maximum, with multiplicative jitter; retry on network
// error and 5xx, retry on 408/429, terminal on any other 4xx.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/postengine/internal/errs"
	"github.com/web3guy0/postengine/types"
)

// Config holds the backoff parameters consumed from internal/config.
type Config struct {
	BaseDelay time.Duration
	CapDelay  time.Duration
	JitterPct float64
	Timeout   time.Duration
}

// Client posts settlement instructions to the gateway.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// New builds a Client whose retryablehttp.Client never gives up on its
// own; the caller's context deadline is what actually bounds an
// attempt sequence.
func New(baseURL string, cfg Config) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryWaitMin = cfg.BaseDelay
	rc.RetryWaitMax = cfg.CapDelay
	rc.RetryMax = math.MaxInt32
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Backoff = jitteredBackoff(cfg.JitterPct)
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{baseURL: baseURL, http: rc}
}

// jitteredBackoff applies exponential backoff from min, capped at max,
// with ±jitterPct multiplicative jitter.
func jitteredBackoff(jitterPct float64) retryablehttp.Backoff {
	return func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		mult := math.Pow(2, float64(attemptNum))
		delay := time.Duration(float64(min) * mult)
		if delay > max {
			delay = max
		}
		jitter := 1 + (rand.Float64()*2-1)*jitterPct
		delay = time.Duration(float64(delay) * jitter)
		if delay < min {
			delay = min
		}
		return delay
	}
}

// checkRetry classifies a response for retry: retry on network
// error or 5xx; retry on 408/429; any other 4xx is terminal.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp == nil {
		return true, nil
	}
	switch {
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return true, nil
	case resp.StatusCode >= 500:
		return true, nil
	case resp.StatusCode >= 400:
		return false, nil
	default:
		return false, nil
	}
}

// Send POSTs instr with Idempotency-Key: instr.SettleID. A terminal
// 4xx (other than 408/429) returns an errs.Terminal error so the
// dispatcher dead-letters the settlement instead of publishing
// SettlementSent.
func (c *Client) Send(ctx context.Context, instr types.SettlementInstruction) error {
	body, err := json.Marshal(instr)
	if err != nil {
		return fmt.Errorf("marshal settlement instruction: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", instr.SettleID)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return errs.Transient(fmt.Errorf("settlement gateway status %d: %s", resp.StatusCode, respBody))
	}

	log.Error().
		Str("settleId", instr.SettleID).
		Int("status", resp.StatusCode).
		Msg("settlement gateway returned terminal error")
	return errs.Terminal(fmt.Errorf("settlement gateway status %d: %s", resp.StatusCode, respBody))
}
