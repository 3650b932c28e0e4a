package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"crypto-terminal/pkg/models"
)

type fakeGateway struct {
	mu sync.Mutex

	markets  func(ctx context.Context) ([]models.Market, error)
	tickers  func(ctx context.Context, symbols []string) (map[string]models.Ticker, error)
	ohlcv    func(ctx context.Context, symbol string) ([]models.Candle, error)
	balances func(ctx context.Context) (models.BalanceSnapshot, error)

	tickerCalls  [][]string
	ohlcvCalls   []string
	balanceCalls int
}

func (f *fakeGateway) LoadMarkets(ctx context.Context) ([]models.Market, error) {
	return f.markets(ctx)
}

func (f *fakeGateway) FetchTickers(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
	f.mu.Lock()
	f.tickerCalls = append(f.tickerCalls, symbols)
	f.mu.Unlock()
	return f.tickers(ctx, symbols)
}

func (f *fakeGateway) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	f.mu.Lock()
	f.ohlcvCalls = append(f.ohlcvCalls, symbol)
	f.mu.Unlock()
	return f.ohlcv(ctx, symbol)
}

func (f *fakeGateway) FetchBalances(ctx context.Context) (models.BalanceSnapshot, error) {
	f.mu.Lock()
	f.balanceCalls++
	f.mu.Unlock()
	if f.balances == nil {
		return models.BalanceSnapshot{}, nil
	}
	return f.balances(ctx)
}

func (f *fakeGateway) RoundAmount(symbol string, amount float64) (float64, error) {
	return amount, nil
}

func (f *fakeGateway) RoundCost(symbol string, cost float64) (float64, error) {
	return cost, nil
}

func (f *fakeGateway) CreateMarketOrder(ctx context.Context, symbol string, side models.Side, amount float64) (*models.OrderResult, error) {
	return &models.OrderResult{ID: "1", Symbol: symbol, Side: side, Amount: amount}, nil
}

func (f *fakeGateway) ohlcvCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ohlcvCalls)
}

func (f *fakeGateway) balanceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls
}

func (f *fakeGateway) tickerRequests() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.tickerCalls...)
}

func startLoop(t *testing.T) *Loop {
	loop := NewLoop(64)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)
	return loop
}

// eventually polls cond on the loop until it holds or the deadline passes.
func eventually(t *testing.T, loop *Loop, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		loop.Call(func() { ok = cond() })
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func price(v float64) *float64 {
	return &v
}

func candles(closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Timestamp: time.UnixMilli(int64(i) * 300000), Close: c}
	}
	return out
}

var (
	btcMarket = models.Market{Symbol: "BTC/USDT", BaseAsset: "BTC", QuoteAsset: "USDT", ExchangeID: "BTCUSDT",
		PricePrecision: 2, AmountPrecision: 6, CostPrecision: 2, Active: true}
	ethMarket = models.Market{Symbol: "ETH/USDT", BaseAsset: "ETH", QuoteAsset: "USDT", ExchangeID: "ETHUSDT",
		PricePrecision: 2, AmountPrecision: 4, CostPrecision: 2, Active: true}
	solMarket = models.Market{Symbol: "SOL/USDT", BaseAsset: "SOL", QuoteAsset: "USDT", ExchangeID: "SOLUSDT",
		PricePrecision: 3, AmountPrecision: 2, CostPrecision: 2, Active: true}
)
