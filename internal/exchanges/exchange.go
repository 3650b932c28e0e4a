package exchanges

import (
	"context"

	"crypto-terminal/pkg/models"
)

// Gateway is the set of exchange capabilities the terminal consumes. Every
// method may block on the network and must not be called from the event loop.
type Gateway interface {
	LoadMarkets(ctx context.Context) ([]models.Market, error)
	FetchTickers(ctx context.Context, symbols []string) (map[string]models.Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
	FetchBalances(ctx context.Context) (models.BalanceSnapshot, error)
	RoundAmount(symbol string, amount float64) (float64, error)
	RoundCost(symbol string, cost float64) (float64, error)
	CreateMarketOrder(ctx context.Context, symbol string, side models.Side, amount float64) (*models.OrderResult, error)
}
