// File: pkg/broker/upbit/uadapter.go
package upbit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jsj9346/makenaide-sub002/pkg/broker"
	"github.com/jsj9346/makenaide-sub002/utilities"
)

// Adapter translates between the normalized broker types and Upbit's REST
// API. All string-to-number parsing happens here, once, at the boundary.
type Adapter struct {
	client *Client
	logger *utilities.Logger
	cfg    *utilities.AppConfig
}

func NewAdapter(appCfg *utilities.AppConfig, httpClient *http.Client, logger *utilities.Logger) (*Adapter, error) {
	if appCfg == nil {
		return nil, fmt.Errorf("upbit adapter: AppConfig cannot be nil")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(appCfg.Upbit.RequestTimeoutSec) * time.Second}
	}
	return &Adapter{
		client: NewClient(&appCfg.Upbit, httpClient, logger),
		logger: logger,
		cfg:    appCfg,
	}, nil
}

// PlaceOrder submits an order. Market buys are expressed as quote notional
// (Upbit ord_type "price"), market sells as base volume (ord_type "market").
func (a *Adapter) PlaceOrder(ctx context.Context, ticker, side, orderType string, volume, price float64, clientOrderID string) (string, error) {
	params := url.Values{"market": {ticker}}

	switch strings.ToLower(side) {
	case "buy":
		params.Set("side", "bid")
	case "sell":
		params.Set("side", "ask")
	default:
		return "", fmt.Errorf("upbit adapter: unknown order side %q", side)
	}

	switch strings.ToLower(orderType) {
	case "market":
		if params.Get("side") == "bid" {
			params.Set("ord_type", "price")
			params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
		} else {
			params.Set("ord_type", "market")
			params.Set("volume", strconv.FormatFloat(volume, 'f', -1, 64))
		}
	case "limit":
		params.Set("ord_type", "limit")
		params.Set("volume", strconv.FormatFloat(volume, 'f', -1, 64))
		params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	default:
		return "", fmt.Errorf("upbit adapter: unknown order type %q", orderType)
	}

	if clientOrderID != "" {
		params.Set("identifier", clientOrderID)
	}

	orderID, err := a.client.PlaceOrderAPI(ctx, params)
	if err != nil {
		return "", err
	}
	a.logger.LogDebug("Upbit PlaceOrder: %s %s %s -> uuid %s", ticker, side, orderType, orderID)
	return orderID, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	return a.client.CancelOrderAPI(ctx, orderID)
}

// GetOrderStatus fetches the order and normalizes state and fills.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID string) (broker.Order, error) {
	raw, err := a.client.GetOrderAPI(ctx, orderID)
	if err != nil {
		return broker.Order{}, err
	}
	return a.mapOrder(raw), nil
}

// FindOrderByClientID looks an order up by the identifier supplied at
// placement time. This is the recovery path when PlaceOrder's response was
// lost in transit and no exchange UUID is known.
func (a *Adapter) FindOrderByClientID(ctx context.Context, clientOrderID string) (broker.Order, error) {
	raw, err := a.client.GetOrderByIdentifierAPI(ctx, clientOrderID)
	if err != nil {
		return broker.Order{}, err
	}
	order := a.mapOrder(raw)
	order.ClientOrderID = clientOrderID
	return order, nil
}

func (a *Adapter) mapOrder(raw upbitOrder) broker.Order {
	order := broker.Order{
		ID:           raw.UUID,
		Ticker:       raw.Market,
		Type:         raw.OrdType,
		State:        normalizeState(raw.State),
		Price:        pf(raw.Price),
		RequestedVol: pf(raw.Volume),
		ExecutedVol:  pf(raw.ExecutedVolume),
		RemainingVol: pf(raw.RemainingVolume),
		Fee:          pf(raw.PaidFee),
		FeeCurrency:  a.cfg.Trading.QuoteCurrency,
		TimePlaced:   parseUpbitTime(raw.CreatedAt),
	}
	if raw.Side == "bid" {
		order.Side = "buy"
	} else {
		order.Side = "sell"
	}

	var filledCost, filledVol float64
	for _, f := range raw.Trades {
		fill := broker.Trade{
			ID:        f.UUID,
			OrderID:   raw.UUID,
			Ticker:    f.Market,
			Side:      order.Side,
			Price:     pf(f.Price),
			Volume:    pf(f.Volume),
			Cost:      pf(f.Funds),
			Timestamp: parseUpbitTime(f.CreatedAt),
		}
		order.Fills = append(order.Fills, fill)
		filledCost += fill.Price * fill.Volume
		filledVol += fill.Volume
		if fill.Timestamp.After(order.TimeCompleted) {
			order.TimeCompleted = fill.Timestamp
		}
	}
	if filledVol > 0 {
		order.AvgFillPrice = filledCost / filledVol
		order.Cost = filledCost
	}

	// Market buys carry the spent notional in Price, not a base volume.
	// Surface the executed notional as the requested quantity reference.
	if raw.OrdType == "price" && order.RequestedVol == 0 && order.AvgFillPrice > 0 {
		order.RequestedVol = pf(raw.Price) / order.AvgFillPrice
	}

	return order
}

func (a *Adapter) GetBalance(ctx context.Context, currency string) (broker.Balance, error) {
	balances, err := a.GetBalances(ctx)
	if err != nil {
		return broker.Balance{}, err
	}
	for _, b := range balances {
		if strings.EqualFold(b.Currency, currency) {
			return b, nil
		}
	}
	return broker.Balance{Currency: strings.ToUpper(currency)}, nil
}

func (a *Adapter) GetBalances(ctx context.Context) ([]broker.Balance, error) {
	accounts, err := a.client.GetAccountsAPI(ctx)
	if err != nil {
		return nil, fmt.Errorf("upbit adapter: fetch accounts: %w", err)
	}
	balances := make([]broker.Balance, 0, len(accounts))
	for _, acc := range accounts {
		available := pf(acc.Balance)
		locked := pf(acc.Locked)
		if available == 0 && locked == 0 {
			continue
		}
		balances = append(balances, broker.Balance{
			Currency:    acc.Currency,
			Available:   available,
			Locked:      locked,
			Total:       available + locked,
			AvgBuyPrice: pf(acc.AvgBuyPrice),
		})
	}
	return balances, nil
}

// GetAccountValue totals the quote balance plus every holding at its last
// traded price.
func (a *Adapter) GetAccountValue(ctx context.Context, quoteCurrency string) (float64, error) {
	balances, err := a.GetBalances(ctx)
	if err != nil {
		return 0, err
	}

	total := 0.0
	var markets []string
	holdings := make(map[string]float64)
	for _, b := range balances {
		if strings.EqualFold(b.Currency, quoteCurrency) {
			total += b.Total
			continue
		}
		market := fmt.Sprintf("%s-%s", strings.ToUpper(quoteCurrency), b.Currency)
		markets = append(markets, market)
		holdings[market] = b.Total
	}

	if len(markets) == 0 {
		return total, nil
	}

	tickers, err := a.client.GetTickerAPI(ctx, markets...)
	if err != nil {
		return 0, fmt.Errorf("upbit adapter: price holdings: %w", err)
	}
	for _, t := range tickers {
		total += holdings[t.Market] * t.TradePrice
	}
	return total, nil
}

func (a *Adapter) GetTicker(ctx context.Context, ticker string) (broker.TickerData, error) {
	tickers, err := a.client.GetTickerAPI(ctx, ticker)
	if err != nil {
		return broker.TickerData{}, err
	}
	if len(tickers) == 0 {
		return broker.TickerData{}, fmt.Errorf("upbit adapter: no ticker data for %s", ticker)
	}
	t := tickers[0]
	return broker.TickerData{
		Ticker:    t.Market,
		LastPrice: t.TradePrice,
		High:      t.HighPrice,
		Low:       t.LowPrice,
		Open:      t.OpeningPrice,
		Volume:    t.AccTradeVolume24H,
		Timestamp: time.UnixMilli(t.Timestamp),
	}, nil
}

// GetLastNOHLCVBars fetches candles and returns them oldest-first.
func (a *Adapter) GetLastNOHLCVBars(ctx context.Context, ticker, timeframe string, nBars int) ([]utilities.OHLCVBar, error) {
	candlePath, err := utilities.ConvertTFToUpbitCandlePath(timeframe)
	if err != nil {
		return nil, err
	}
	candles, err := a.client.GetCandlesAPI(ctx, candlePath, ticker, nBars)
	if err != nil {
		return nil, fmt.Errorf("upbit adapter: fetch candles %s %s: %w", ticker, timeframe, err)
	}

	bars := make([]utilities.OHLCVBar, 0, len(candles))
	for _, c := range candles {
		bars = append(bars, utilities.OHLCVBar{
			Timestamp: c.Timestamp,
			Open:      c.OpeningPrice,
			High:      c.HighPrice,
			Low:       c.LowPrice,
			Close:     c.TradePrice,
			Volume:    c.CandleAccTradeVolume,
		})
	}
	utilities.SortBarsByTimestamp(bars)
	return bars, nil
}

func normalizeState(state string) string {
	switch strings.ToLower(state) {
	case "wait", "watch":
		return broker.StateWait
	case "done":
		return broker.StateDone
	case "cancel", "canceled", "cancelled":
		return broker.StateCancel
	default:
		return state
	}
}

// pf parses Upbit's stringly-typed numbers, treating blanks as zero.
func pf(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
