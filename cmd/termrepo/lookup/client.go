// Package lookup resolves search style expressions against a remote
// terminology API that answers with version URLs.
package lookup

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

	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var ErrNotConfigured = errors.New("remote lookup is not configured")

type Config struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// BreakerFailures consecutive failed lookups open the circuit for
	// BreakerCooldown. Open circuits fail fast with gobreaker.ErrOpenState.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client calls the remote lookup API.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

type versionURL struct {
	VersionURL string `json:"version_url"`
}

func NewClient(config Config, log zerolog.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryWaitMin == 0 {
		config.RetryWaitMin = 100 * time.Millisecond
	}
	if config.RetryWaitMax == 0 {
		config.RetryWaitMax = time.Second
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}
	if config.BreakerCooldown == 0 {
		config.BreakerCooldown = 30 * time.Second
	}

	log = log.With().Str("component", "lookup_client").Logger()

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = config.RetryMax
	retryClient.RetryWaitMin = config.RetryWaitMin
	retryClient.RetryWaitMax = config.RetryWaitMax
	retryClient.HTTPClient = &http.Client{Timeout: config.Timeout}
	retryClient.Logger = leveledLogger{log: log}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		timeout:    config.Timeout,
		httpClient: retryClient.StandardClient(),
		breaker:    newBreaker(config, log),
		log:        log,
	}
}

func newBreaker(config Config, log zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "lookup",
		MaxRequests: 1,
		Timeout:     config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Lookup circuit breaker changed state")
		},
	})
}

// Fetch returns the version URLs the remote API lists for expression.
// The whole call, retries included, is bounded by the configured timeout.
func (c *Client) Fetch(ctx context.Context, expression string, user *terminology.User) ([]string, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, expression, user)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (c *Client) fetch(ctx context.Context, expression string, user *terminology.User) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+expression, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if user != nil && user.Token != "" {
		req.Header.Set("Authorization", "Token "+user.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	uris, err := decodeVersionURLs(body)
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("expression", expression).
		Int("matches", len(uris)).
		Msg("Fetched remote matches")
	return uris, nil
}

// decodeVersionURLs accepts either a list of objects or a single object.
func decodeVersionURLs(body []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var items []versionURL
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to decode lookup response: %w", err)
		}
	} else {
		var item versionURL
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return nil, fmt.Errorf("failed to decode lookup response: %w", err)
		}
		items = append(items, item)
	}

	uris := make([]string, 0, len(items))
	for _, item := range items {
		if item.VersionURL != "" {
			uris = append(uris, item.VersionURL)
		}
	}
	return uris, nil
}

// leveledLogger routes retryablehttp logging through zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}
