package models

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Market is a tradable spot pair with its derived precision and limits.
type Market struct {
	Symbol          string
	BaseAsset       string
	QuoteAsset      string
	ExchangeID      string
	PricePrecision  int
	AmountPrecision int
	CostPrecision   int
	MinAmount       *float64
	MinCost         *float64
	Active          bool
}

type Ticker struct {
	Symbol    string
	LastPrice *float64
	Bid       *float64
	Ask       *float64
	Volume    *float64
	Timestamp *int64
}

type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// BalanceSnapshot maps an asset to its free quantity.
type BalanceSnapshot map[string]float64

// Free returns the free quantity of asset, zero when absent.
func (b BalanceSnapshot) Free(asset string) float64 {
	return b[asset]
}

type OrderRequest struct {
	Symbol          string
	Side            Side
	RequestedAmount float64
}

type OrderResult struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          Side
	Amount        float64
	Filled        float64
}

// Credentials is the exchange API key pair of the logged-in user.
type Credentials struct {
	APIKey    string
	APISecret string
}

func (c Credentials) Present() bool {
	return c.APIKey != "" && c.APISecret != ""
}

type UserInfo struct {
	Login       string
	Credentials Credentials
}
