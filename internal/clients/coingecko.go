package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/sand/crypto-payment-verifier/backend/config"
	"github.com/sand/crypto-payment-verifier/backend/internal/core/ports"
)

const (
	defaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	vsCurrency          = "usd"
)

// Соответствие тикеров идентификаторам CoinGecko
var coinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"BNB":  "binancecoin",
	"TRX":  "tron",
	"USDT": "tether",
	"USDC": "usd-coin",
}

var _ ports.PriceOracle = (*CoinGeckoClient)(nil)

// CoinGeckoClient returns USD spot prices. Prices are informational only and never affect verdicts.
type CoinGeckoClient struct {
	logger *slog.Logger
	apiKey string
	apiURL string
	client *http.Client
	cache  *cache.Cache
}

func NewCoinGeckoClient(logger *slog.Logger, cfg config.Prices) *CoinGeckoClient {
	apiURL := strings.TrimRight(cfg.URL, "/")
	if apiURL == "" {
		apiURL = defaultCoinGeckoURL
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}

	logger.Info("CoinGecko price client initialized", "api_url", apiURL, "cache_ttl", ttl.String())

	return &CoinGeckoClient{
		logger: logger,
		apiKey: cfg.APIKey,
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
		cache:  cache.New(ttl, 2*ttl),
	}
}

// GetPrice returns the USD price of coin, or zero when the coin is unknown or the API fails.
func (c *CoinGeckoClient) GetPrice(ctx context.Context, coin string) decimal.Decimal {
	ticker := strings.ToUpper(strings.TrimSpace(coin))
	id, ok := coinGeckoIDs[ticker]
	if !ok {
		c.logger.DebugContext(ctx, "Unknown coin for price lookup", "coin", coin)
		return decimal.Zero
	}

	if cached, found := c.cache.Get(id); found {
		return cached.(decimal.Decimal)
	}

	price, err := c.fetchPrice(ctx, id)
	if err != nil {
		c.logger.WarnContext(ctx, "Price lookup failed", "coin", ticker, "error", err)
		return decimal.Zero
	}

	c.cache.SetDefault(id, price)
	return price
}

func (c *CoinGeckoClient) fetchPrice(ctx context.Context, id string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", vsCurrency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create CoinGecko request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to send request to CoinGecko: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("CoinGecko API returned non-200 status code: %d", resp.StatusCode)
	}

	var body map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode CoinGecko response: %w", err)
	}

	raw, ok := body[id][vsCurrency]
	if !ok {
		return decimal.Zero, fmt.Errorf("CoinGecko response has no %s price for %s", vsCurrency, id)
	}

	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid CoinGecko price %q: %w", raw, err)
	}

	return price, nil
}
