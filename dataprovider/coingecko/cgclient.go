// File: dataprovider/coingecko/cgclient.go
package coingecko

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jsj9346/makenaide-sub002/dataprovider"
	"github.com/jsj9346/makenaide-sub002/utilities"

	"golang.org/x/time/rate"
)

// Client is a thin CoinGecko client serving as the secondary candle source
// for ATR fallback when the exchange cannot provide enough history.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *utilities.Logger
	cache      dataprovider.BarCache
	maxRetries int
	retryDelay time.Duration

	idMu    sync.RWMutex
	idMap   map[string]string // upper symbol -> coingecko id
	idFetch time.Time
}

// cacheProvider keys this client's rows in the shared bar cache.
const cacheProvider = "coingecko"

type coinListEntry struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

func NewClient(cfg *utilities.CoingeckoConfig, logger *utilities.Logger, httpClient *http.Client, cache dataprovider.BarCache) (dataprovider.BarsProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("coingecko: config cannot be nil")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	limit := rate.Limit(cfg.RateLimitPerSec)
	if limit <= 0 {
		limit = 0.5
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 2
	}
	delay := time.Duration(cfg.RetryDelaySec) * time.Second
	if delay <= 0 {
		delay = 3 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
		cache:      cache,
		maxRetries: retries,
		retryDelay: delay,
		idMap:      make(map[string]string),
	}, nil
}

// GetCoinID resolves a base asset symbol (e.g. "BTC") to a CoinGecko coin id.
func (c *Client) GetCoinID(ctx context.Context, symbol string) (string, error) {
	upper := strings.ToUpper(symbol)

	c.idMu.RLock()
	id, ok := c.idMap[upper]
	fresh := time.Since(c.idFetch) < 24*time.Hour
	c.idMu.RUnlock()
	if ok && fresh {
		return id, nil
	}

	if err := c.refreshIDMap(ctx); err != nil {
		if ok {
			// Stale map is still better than no answer.
			return id, nil
		}
		return "", err
	}

	c.idMu.RLock()
	defer c.idMu.RUnlock()
	id, ok = c.idMap[upper]
	if !ok {
		return "", fmt.Errorf("coingecko: no id found for symbol %s", symbol)
	}
	return id, nil
}

// GetOHLCVBars fetches daily OHLC bars for a coin. CoinGecko's OHLC endpoint
// carries no volume; callers needing volume must use exchange candles.
func (c *Client) GetOHLCVBars(ctx context.Context, coinID, quoteCurrency string, days int) ([]utilities.OHLCVBar, error) {
	if cached := c.cachedBars(coinID, days); cached != nil {
		return cached, nil
	}

	params := url.Values{
		"vs_currency": {strings.ToLower(quoteCurrency)},
		"days":        {fmt.Sprintf("%d", days)},
	}
	endpoint := fmt.Sprintf("%s/coins/%s/ohlc?%s", c.baseURL, coinID, params.Encode())

	var raw [][]float64
	if err := c.getJSON(ctx, endpoint, &raw); err != nil {
		return nil, fmt.Errorf("coingecko: fetch ohlc for %s: %w", coinID, err)
	}

	bars := make([]utilities.OHLCVBar, 0, len(raw))
	for _, row := range raw {
		if len(row) < 5 {
			continue
		}
		bars = append(bars, utilities.OHLCVBar{
			Timestamp: int64(row[0]),
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
		})
	}
	utilities.SortBarsByTimestamp(bars)

	if c.cache != nil {
		for _, bar := range bars {
			if err := c.cache.SaveBar(cacheProvider, coinID, bar); err != nil {
				c.logger.LogWarn("CoinGecko: bar cache write failed for %s: %v", coinID, err)
				break
			}
		}
	}

	keep := utilities.MinInt(len(bars), days)
	return bars[len(bars)-keep:], nil
}

// cachedBars serves a request from the bar cache when it holds enough rows
// and the newest row is recent. The OHLC endpoint returns daily candles, so
// anything within the last two days counts as current.
func (c *Client) cachedBars(coinID string, days int) []utilities.OHLCVBar {
	if c.cache == nil {
		return nil
	}
	now := time.Now()
	cached, err := c.cache.GetBars(cacheProvider, coinID, 0, now.UnixMilli())
	if err != nil || len(cached) < days {
		return nil
	}
	fresh := utilities.FilterAfter(cached, func(b utilities.OHLCVBar) time.Time {
		return time.UnixMilli(b.Timestamp)
	}, now.Add(-48*time.Hour))
	if len(fresh) == 0 {
		return nil
	}
	keep := utilities.MinInt(len(cached), days)
	return cached[len(cached)-keep:]
}

func (c *Client) refreshIDMap(ctx context.Context) error {
	var list []coinListEntry
	if err := c.getJSON(ctx, c.baseURL+"/coins/list", &list); err != nil {
		return fmt.Errorf("coingecko: refresh coin list: %w", err)
	}

	idMap := make(map[string]string, len(list))
	for _, entry := range list {
		upper := strings.ToUpper(entry.Symbol)
		// First entry wins; later duplicates are mostly wrapped clones.
		if _, exists := idMap[upper]; !exists {
			idMap[upper] = entry.ID
		}
	}

	c.idMu.Lock()
	c.idMap = idMap
	c.idFetch = time.Now()
	c.idMu.Unlock()
	c.logger.LogDebug("CoinGecko: refreshed id map with %d symbols", len(idMap))
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, target interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}
	return utilities.DoJSONRequest(c.httpClient, req, c.maxRetries, c.retryDelay, target)
}
