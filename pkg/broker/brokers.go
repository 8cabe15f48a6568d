// File: pkg/broker/brokers.go
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jsj9346/makenaide-sub002/utilities"
)

// Order lifecycle states as normalized by adapters. Exchange-native state
// strings are translated into these before anyone else sees them.
const (
	StateWait   = "wait"
	StateDone   = "done"
	StateCancel = "cancel"
)

// Broker defines the interface for interacting with a cryptocurrency exchange.
type Broker interface {
	// PlaceOrder submits a new order to the exchange and returns its ID.
	// Market buys are priced in quote notional, market sells in base volume.
	PlaceOrder(ctx context.Context, ticker, side, orderType string, volume, price float64, clientOrderID string) (string, error)

	// CancelOrder cancels an existing order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// GetOrderStatus retrieves the state of a specific order, including its fills.
	GetOrderStatus(ctx context.Context, orderID string) (Order, error)

	// FindOrderByClientID retrieves an order by the client-assigned identifier.
	// Adapters use this to recover an order whose placement response was lost.
	FindOrderByClientID(ctx context.Context, clientOrderID string) (Order, error)

	// GetBalance retrieves the account balance for a specific currency.
	GetBalance(ctx context.Context, currency string) (Balance, error)

	// GetBalances retrieves all non-zero account balances.
	GetBalances(ctx context.Context) ([]Balance, error)

	// GetAccountValue retrieves the total portfolio value in the quote currency.
	GetAccountValue(ctx context.Context, quoteCurrency string) (float64, error)

	// GetTicker retrieves ticker data for a specific market.
	GetTicker(ctx context.Context, ticker string) (TickerData, error)

	// GetLastNOHLCVBars retrieves the last N OHLCV bars for a market and timeframe.
	GetLastNOHLCVBars(ctx context.Context, ticker, timeframe string, nBars int) ([]utilities.OHLCVBar, error)
}

// ErrBusinessReject marks an order the exchange refused for a business
// reason: below minimum notional, insufficient balance, unknown market.
// These are terminal and must never be retried.
var ErrBusinessReject = errors.New("order rejected by exchange policy")

// BusinessRejectError wraps the exchange's rejection detail.
type BusinessRejectError struct {
	Code   string
	Detail string
}

func (e *BusinessRejectError) Error() string {
	return fmt.Sprintf("order rejected (%s): %s", e.Code, e.Detail)
}

func (e *BusinessRejectError) Unwrap() error { return ErrBusinessReject }

// IsRetryable reports whether an error from a Broker call is a transient
// transport failure worth retrying. Business rejections are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrBusinessReject)
}

// Order represents an order's normalized state and details.
type Order struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Ticker        string    `json:"ticker"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	State         string    `json:"state"`
	Price         float64   `json:"price,omitempty"`
	RequestedVol  float64   `json:"requested_volume"`
	ExecutedVol   float64   `json:"executed_volume"`
	RemainingVol  float64   `json:"remaining_volume"`
	AvgFillPrice  float64   `json:"avg_fill_price,omitempty"`
	Cost          float64   `json:"cost,omitempty"`
	Fee           float64   `json:"fee,omitempty"`
	FeeCurrency   string    `json:"fee_currency,omitempty"`
	Fills         []Trade   `json:"fills,omitempty"`
	TimePlaced    time.Time `json:"time_placed"`
	TimeCompleted time.Time `json:"time_completed,omitempty"`
}

// TickerData contains current market ticker information.
type TickerData struct {
	Ticker    string    `json:"ticker"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	LastPrice float64   `json:"last_price"`
	Volume    float64   `json:"volume"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Open      float64   `json:"open"`
	Timestamp time.Time `json:"timestamp"`
}

// Trade represents an executed fill belonging to an order.
type Trade struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Ticker      string    `json:"ticker"`
	Side        string    `json:"side"`
	Price       float64   `json:"price"`
	Volume      float64   `json:"volume"`
	Cost        float64   `json:"cost"`
	Fee         float64   `json:"fee"`
	FeeCurrency string    `json:"fee_currency"`
	Timestamp   time.Time `json:"timestamp"`
}

// Balance represents the balance of a single currency.
type Balance struct {
	Currency    string  `json:"currency"`     // e.g., "BTC", "KRW"
	Available   float64 `json:"available"`    // Amount available for trading
	Locked      float64 `json:"locked"`       // Amount reserved by open orders
	Total       float64 `json:"total"`        // Available + locked
	AvgBuyPrice float64 `json:"avg_buy_price"`
}
