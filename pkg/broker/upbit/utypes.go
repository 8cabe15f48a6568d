package upbit

// upbitError is the error envelope Upbit returns with non-2xx statuses.
type upbitError struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// upbitAccount is one entry of the GET /v1/accounts response.
type upbitAccount struct {
	Currency            string `json:"currency"`
	Balance             string `json:"balance"`
	Locked              string `json:"locked"`
	AvgBuyPrice         string `json:"avg_buy_price"`
	AvgBuyPriceModified bool   `json:"avg_buy_price_modified"`
	UnitCurrency        string `json:"unit_currency"`
}

// upbitOrderFill is one entry of the trades array in an order lookup.
type upbitOrderFill struct {
	Market    string `json:"market"`
	UUID      string `json:"uuid"`
	Price     string `json:"price"`
	Volume    string `json:"volume"`
	Funds     string `json:"funds"`
	Side      string `json:"side"`
	CreatedAt string `json:"created_at"`
}

// upbitOrder is the response shape for POST /v1/orders and GET /v1/order.
type upbitOrder struct {
	UUID            string           `json:"uuid"`
	Side            string           `json:"side"`
	OrdType         string           `json:"ord_type"`
	Price           string           `json:"price"`
	State           string           `json:"state"`
	Market          string           `json:"market"`
	CreatedAt       string           `json:"created_at"`
	Volume          string           `json:"volume"`
	RemainingVolume string           `json:"remaining_volume"`
	ReservedFee     string           `json:"reserved_fee"`
	RemainingFee    string           `json:"remaining_fee"`
	PaidFee         string           `json:"paid_fee"`
	Locked          string           `json:"locked"`
	ExecutedVolume  string           `json:"executed_volume"`
	TradesCount     int              `json:"trades_count"`
	Trades          []upbitOrderFill `json:"trades"`
}

// upbitTicker is one entry of the GET /v1/ticker response.
type upbitTicker struct {
	Market             string  `json:"market"`
	TradePrice         float64 `json:"trade_price"`
	OpeningPrice       float64 `json:"opening_price"`
	HighPrice          float64 `json:"high_price"`
	LowPrice           float64 `json:"low_price"`
	AccTradeVolume24H  float64 `json:"acc_trade_volume_24h"`
	HighestBidPrice    float64 `json:"highest_52_week_price"`
	Timestamp          int64   `json:"timestamp"`
	SignedChangeRate   float64 `json:"signed_change_rate"`
	AccTradePrice24H   float64 `json:"acc_trade_price_24h"`
	PrevClosingPrice   float64 `json:"prev_closing_price"`
	Change             string  `json:"change"`
	TradeTimestamp     int64   `json:"trade_timestamp"`
	MarketWarning      string  `json:"market_warning,omitempty"`
	OrderbookTimestamp int64   `json:"orderbook_timestamp,omitempty"`
}

// upbitCandle is one entry of the candle endpoints.
type upbitCandle struct {
	Market               string  `json:"market"`
	CandleDateTimeUTC    string  `json:"candle_date_time_utc"`
	OpeningPrice         float64 `json:"opening_price"`
	HighPrice            float64 `json:"high_price"`
	LowPrice             float64 `json:"low_price"`
	TradePrice           float64 `json:"trade_price"`
	Timestamp            int64   `json:"timestamp"`
	CandleAccTradePrice  float64 `json:"candle_acc_trade_price"`
	CandleAccTradeVolume float64 `json:"candle_acc_trade_volume"`
}
