// File: pkg/broker/upbit/uclient.go
package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jsj9346/makenaide-sub002/pkg/broker"
	"github.com/jsj9346/makenaide-sub002/utilities"

	"golang.org/x/time/rate"
)

// rejectionNames are Upbit error names that signal a business refusal rather
// than a transport problem. These map onto broker.BusinessRejectError.
var rejectionNames = map[string]bool{
	"insufficient_funds_bid":  true,
	"insufficient_funds_ask":  true,
	"under_min_total_bid":     true,
	"under_min_total_ask":     true,
	"market_does_not_exist":   true,
	"invalid_volume_bid":      true,
	"invalid_volume_ask":      true,
	"withdraw_address_not_registered": true,
}

type Client struct {
	BaseURL    string
	AccessKey  string
	SecretKey  string
	HTTPClient *http.Client
	limiter    *rate.Limiter
	logger     *utilities.Logger
	cfg        *utilities.UpbitConfig
}

func NewClient(appCfg *utilities.UpbitConfig, httpClient *http.Client, logger *utilities.Logger) *Client {
	baseURL := appCfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.upbit.com"
	}
	limit := appCfg.RateLimitPerSec
	if limit <= 0 {
		limit = 8
	}
	burst := appCfg.RateLimitBurst
	if burst <= 0 {
		burst = 5
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AccessKey:  appCfg.AccessKey,
		SecretKey:  appCfg.SecretKey,
		HTTPClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
		cfg:        appCfg,
	}
}

// GetAccountsAPI fetches all account balances.
func (c *Client) GetAccountsAPI(ctx context.Context) ([]upbitAccount, error) {
	var accounts []upbitAccount
	if err := c.call(ctx, http.MethodGet, "/v1/accounts", nil, true, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// PlaceOrderAPI submits an order and returns the exchange-assigned UUID.
func (c *Client) PlaceOrderAPI(ctx context.Context, params url.Values) (string, error) {
	var order upbitOrder
	if err := c.call(ctx, http.MethodPost, "/v1/orders", params, true, &order); err != nil {
		return "", err
	}
	if order.UUID == "" {
		return "", fmt.Errorf("upbit: order response missing uuid")
	}
	return order.UUID, nil
}

// CancelOrderAPI cancels an order by UUID.
func (c *Client) CancelOrderAPI(ctx context.Context, orderUUID string) error {
	params := url.Values{"uuid": {orderUUID}}
	var order upbitOrder
	return c.call(ctx, http.MethodDelete, "/v1/order", params, true, &order)
}

// GetOrderAPI fetches a single order with its fills.
func (c *Client) GetOrderAPI(ctx context.Context, orderUUID string) (upbitOrder, error) {
	params := url.Values{"uuid": {orderUUID}}
	var order upbitOrder
	if err := c.call(ctx, http.MethodGet, "/v1/order", params, true, &order); err != nil {
		return upbitOrder{}, err
	}
	return order, nil
}

// GetOrderByIdentifierAPI fetches a single order by the client-assigned
// identifier. Used to re-verify a submit whose response was lost.
func (c *Client) GetOrderByIdentifierAPI(ctx context.Context, identifier string) (upbitOrder, error) {
	params := url.Values{"identifier": {identifier}}
	var order upbitOrder
	if err := c.call(ctx, http.MethodGet, "/v1/order", params, true, &order); err != nil {
		return upbitOrder{}, err
	}
	return order, nil
}

// GetTickerAPI fetches ticker snapshots for one or more markets.
func (c *Client) GetTickerAPI(ctx context.Context, markets ...string) ([]upbitTicker, error) {
	params := url.Values{"markets": {strings.Join(markets, ",")}}
	var tickers []upbitTicker
	if err := c.call(ctx, http.MethodGet, "/v1/ticker", params, false, &tickers); err != nil {
		return nil, err
	}
	return tickers, nil
}

// GetCandlesAPI fetches up to count candles for the given timeframe path
// segment, newest first as Upbit serves them.
func (c *Client) GetCandlesAPI(ctx context.Context, candlePath, market string, count int) ([]upbitCandle, error) {
	params := url.Values{
		"market": {market},
		"count":  {fmt.Sprintf("%d", count)},
	}
	var candles []upbitCandle
	if err := c.call(ctx, http.MethodGet, "/v1/candles/"+candlePath, params, false, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// call performs a rate-limited request against the Upbit REST API, signing
// private endpoints with a JWT, and decodes either the target or the Upbit
// error envelope.
func (c *Client) call(ctx context.Context, method, path string, params url.Values, private bool, target interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("upbit: rate limiter wait: %w", err)
	}

	reqURL := c.BaseURL + path
	var body io.Reader
	if len(params) > 0 {
		if method == http.MethodPost {
			body = strings.NewReader(params.Encode())
		} else {
			reqURL += "?" + params.Encode()
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("upbit: create request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if private {
		headers, err := utilities.GenerateUpbitAuthHeaders(c.AccessKey, c.SecretKey, params)
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("upbit: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("upbit: read response %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr upbitError
		if jsonErr := json.Unmarshal(raw, &apiErr); jsonErr == nil && apiErr.Error.Name != "" {
			if resp.StatusCode < 500 && rejectionNames[apiErr.Error.Name] {
				return &broker.BusinessRejectError{Code: apiErr.Error.Name, Detail: apiErr.Error.Message}
			}
			return fmt.Errorf("upbit: %s %s: http %d: %s (%s)", method, path, resp.StatusCode, apiErr.Error.Message, apiErr.Error.Name)
		}
		return fmt.Errorf("upbit: %s %s: http %d: %s", method, path, resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("upbit: decode response %s: %w", path, err)
	}
	return nil
}

// parseUpbitTime parses Upbit's local-offset timestamps, e.g.
// "2024-03-01T09:00:00+09:00".
func parseUpbitTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
