package chains

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sand/crypto-payment-verifier/backend/config"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
)

const (
	defaultExplorerTimeout = 10 * time.Second
	defaultRateLimit       = 5 // запросов в секунду
	maxErrorBodyLength     = 256
)

// explorerClient is the HTTP plumbing shared by all adapters: timeout, rate limit, API key and
// the classification of failures into not-found versus service-unavailable.
type explorerClient struct {
	logger  *slog.Logger
	network entities.Network
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func newExplorerClient(logger *slog.Logger, network entities.Network, baseURL string, cfg config.Explorer) *explorerClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultExplorerTimeout
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}

	return &explorerClient{
		logger:  logger,
		network: network,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(limit), max(1, int(limit))),
	}
}

// getJSON performs GET baseURL+path?query and decodes the body into out.
func (c *explorerClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", c.network, err)
	}

	body, err := c.do(req)
	if err != nil {
		return err
	}

	return c.decode(body, out)
}

// postJSON performs POST baseURL+path with a JSON payload and decodes the body into out.
func (c *explorerClient) postJSON(ctx context.Context, path string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", c.network, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", c.network, err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}

	return c.decode(body, out)
}

// getText performs GET baseURL+path and returns the trimmed body.
func (c *explorerClient) getText(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create %s request: %w", c.network, err)
	}

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

func (c *explorerClient) do(req *http.Request) ([]byte, error) {
	ctx := req.Context()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limiter: %w: %w", c.network, entities.ErrServiceUnavailable, err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" && c.network == entities.NetworkTRC20 {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Explorer request failed",
			"network", c.network,
			"path", req.URL.Path,
			"error", err)
		return nil, fmt.Errorf("%s request failed: %w: %w", c.network, entities.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w: %w", c.network, entities.ErrServiceUnavailable, err)
	}

	c.logger.DebugContext(ctx, "Explorer request completed",
		"network", c.network,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start).String())

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s explorer returned 404: %w", c.network, entities.ErrTransactionNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%s explorer returned status %d, body: %s: %w",
			c.network, resp.StatusCode, truncate(body), entities.ErrServiceUnavailable)
	}

	return body, nil
}

func (c *explorerClient) decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w: %w", c.network, entities.ErrServiceUnavailable, err)
	}
	return nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyLength {
		return string(body[:maxErrorBodyLength]) + "..."
	}
	return string(body)
}

// confirmationsBetween returns head - block + 1, or 0 when the head lags behind the block.
func confirmationsBetween(head, block uint64) uint64 {
	if head < block {
		return 0
	}
	return head - block + 1
}

// contractSet is the allowlist of token contracts an adapter decodes transfer calls for.
type contractSet struct {
	normalize func(string) string
	addresses map[string]struct{}
}

func newContractSet(addresses []string, normalize func(string) string) contractSet {
	set := contractSet{normalize: normalize, addresses: make(map[string]struct{}, len(addresses))}
	for _, address := range addresses {
		if address = strings.TrimSpace(address); address != "" {
			set.addresses[normalize(address)] = struct{}{}
		}
	}
	return set
}

func (s contractSet) contains(address string) bool {
	if address == "" {
		return false
	}
	_, ok := s.addresses[s.normalize(strings.TrimSpace(address))]
	return ok
}
