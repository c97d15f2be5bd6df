// Package chainquery reads chain state the orchestrator needs from a live
// chain's REST (LCD) endpoints: the transfer module's minimum relayer fee and
// bank balances. Requests retry on the active endpoint and fail over to
// backups.
package chainquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "chain_query").Logger()
}

// SetLogger replaces the package logger.
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "chain_query").Logger()
}

const (
	feeParamsPath = "/neutron-org/neutron/feerefunder/params"
	balancePath   = "/cosmos/bank/v1beta1/balances/%s/by_denom?denom=%s"
	healthPath    = "/cosmos/base/tendermint/v1beta1/node_info"
)

var ErrNoEndpoint = errors.New("no REST endpoint configured")

// FailoverConfig controls retries and endpoint switching.
type FailoverConfig struct {
	// MaxRetries is how often a failed request is repeated on the active
	// endpoint before moving on.
	MaxRetries int
	// RetryDelay is the first backoff interval.
	RetryDelay time.Duration
	// HealthCheckInterval is how often a client running on a backup probes
	// the primary. Zero disables probing.
	HealthCheckInterval time.Duration
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		MaxRetries:          2,
		RetryDelay:          500 * time.Millisecond,
		HealthCheckInterval: 30 * time.Second,
		Timeout:             10 * time.Second,
	}
}

// Client queries one chain. endpoints[0] is the primary.
type Client struct {
	http      *http.Client
	endpoints []string
	active    atomic.Int32
	config    FailoverConfig

	stopProbe context.CancelFunc
	probeDone chan struct{}
}

var _ wasm.Querier = (*Client)(nil)

// NewClient builds a client over urls. The first URL must parse; invalid
// backups are dropped with a warning.
func NewClient(urls []string, config FailoverConfig) (*Client, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoint
	}
	if _, err := url.ParseRequestURI(urls[0]); err != nil {
		return nil, fmt.Errorf("primary url %q: %w", urls[0], err)
	}
	endpoints := []string{urls[0]}
	for _, u := range urls[1:] {
		if _, err := url.ParseRequestURI(u); err != nil {
			log.Warn().Err(err).Str("url", u).Msg("Skipping invalid backup URL")
			continue
		}
		endpoints = append(endpoints, u)
	}

	c := &Client{
		http:      &http.Client{Timeout: config.Timeout},
		endpoints: endpoints,
		config:    config,
	}
	if len(endpoints) > 1 && config.HealthCheckInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.stopProbe = cancel
		c.probeDone = make(chan struct{})
		go c.probePrimary(ctx)
	}

	log.Info().
		Str("primary", endpoints[0]).
		Int("backups", len(endpoints)-1).
		Msg("Chain query client initialized")
	return c, nil
}

// CurrentURL returns the endpoint requests currently go to.
func (c *Client) CurrentURL() string {
	return c.endpoints[c.active.Load()]
}

// Close stops probing the primary.
func (c *Client) Close() {
	if c.stopProbe != nil {
		c.stopProbe()
		<-c.probeDone
		c.stopProbe = nil
	}
}

// probePrimary moves back to the primary once it answers again.
func (c *Client) probePrimary(ctx context.Context) {
	defer close(c.probeDone)
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.active.Load() != 0 && c.healthy(ctx, c.endpoints[0]) {
				c.active.Store(0)
				log.Info().Str("url", c.endpoints[0]).Msg("Back on primary endpoint")
			}
		}
	}
}

func (c *Client) healthy(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+healthPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", endpoint).Msg("Health check failed")
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// failover activates the next healthy endpoint after the active one.
func (c *Client) failover(ctx context.Context) bool {
	from := int(c.active.Load())
	for i := 1; i < len(c.endpoints); i++ {
		next := (from + i) % len(c.endpoints)
		if c.healthy(ctx, c.endpoints[next]) {
			// another request may have failed over already
			if c.active.CompareAndSwap(int32(from), int32(next)) {
				log.Warn().
					Str("from", c.endpoints[from]).
					Str("to", c.endpoints[next]).
					Msg("Failed over to backup endpoint")
			}
			return true
		}
	}
	log.Warn().Str("url", c.endpoints[from]).Msg("No healthy endpoint, staying on current")
	return false
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.code, e.body) }

func (c *Client) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+path, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return nil, &statusError{resp.StatusCode, string(body)}
	default:
		// the node answered, asking again will not change the answer
		return nil, backoff.Permanent(&statusError{resp.StatusCode, string(body)})
	}
}

// query GETs path from the active endpoint with exponential backoff, then
// once more from the next healthy endpoint.
func (c *Client) query(ctx context.Context, path string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.RetryDelay
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.get(ctx, c.CurrentURL(), path)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.config.MaxRetries+1)))
	if err == nil {
		return body, nil
	}

	var se *statusError
	if errors.As(err, &se) && se.code < http.StatusInternalServerError && se.code != http.StatusTooManyRequests {
		return nil, err
	}
	if len(c.endpoints) > 1 && c.failover(ctx) {
		body, ferr := c.get(ctx, c.CurrentURL(), path)
		if ferr != nil {
			return nil, fmt.Errorf("failover request failed: %w (original: %w)", ferr, err)
		}
		return body, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.config.MaxRetries+1, err)
}

type feeParamsResponse struct {
	Params struct {
		MinFee wasm.IbcFee `json:"min_fee"`
	} `json:"params"`
}

// MinIbcFee returns the minimum fee the fee refunder module accepts.
func (c *Client) MinIbcFee(ctx context.Context) (wasm.IbcFee, error) {
	body, err := c.query(ctx, feeParamsPath)
	if err != nil {
		return wasm.IbcFee{}, err
	}
	var resp feeParamsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return wasm.IbcFee{}, fmt.Errorf("decode fee params: %w", err)
	}
	fee := resp.Params.MinFee
	if err := fee.Total().Validate(); err != nil {
		return wasm.IbcFee{}, fmt.Errorf("fee params: %w", err)
	}
	return fee, nil
}

type balanceResponse struct {
	Balance *funds.Coin `json:"balance"`
}

// Balance returns the balance of address in denom, zero when the account
// holds none.
func (c *Client) Balance(ctx context.Context, address, denom string) (funds.Coin, error) {
	body, err := c.query(ctx, fmt.Sprintf(balancePath, url.PathEscape(address), url.QueryEscape(denom)))
	if err != nil {
		return funds.Coin{}, err
	}
	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return funds.Coin{}, fmt.Errorf("decode balance: %w", err)
	}
	if resp.Balance == nil {
		return funds.NewCoin(0, denom), nil
	}
	if resp.Balance.Denom != denom {
		return funds.Coin{}, fmt.Errorf("balance response for %q, asked for %q", resp.Balance.Denom, denom)
	}
	return *resp.Balance, nil
}
