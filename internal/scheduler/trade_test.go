package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto-terminal/internal/predictor"
	"crypto-terminal/pkg/models"
)

var testOptions = TradeOptions{Timeframe: "5m", Limit: 100, Lookback: 5, OHLCVInterval: time.Hour, BalanceInterval: time.Hour}

func withCreds(creds models.Credentials) func() models.Credentials {
	return func() models.Credentials { return creds }
}

func TestTrade_SymbolSwitchDiscardsLateOHLCV(t *testing.T) {
	loop := startLoop(t)
	releaseBTC := make(chan struct{})
	gateway := &fakeGateway{
		ohlcv: func(ctx context.Context, symbol string) ([]models.Candle, error) {
			if symbol == btcMarket.Symbol {
				<-releaseBTC
				return candles(1, 2, 3, 4, 5, 6), nil
			}
			return candles(10, 11, 12), nil
		},
	}
	trade := NewTrade(loop, gateway, withCreds(models.Credentials{}), testOptions, nil)

	loop.Call(func() { trade.Activate(btcMarket, nil) })
	eventually(t, loop, "BTC fetch started", func() bool { return gateway.ohlcvCount() == 1 })
	loop.Call(func() { trade.Activate(ethMarket, price(12)) })
	eventually(t, loop, "ETH chart", func() bool { return len(trade.View().Candles) == 3 })

	close(releaseBTC)
	eventually(t, loop, "BTC result discarded", func() bool {
		_, _, stale := trade.OHLCVStream().Stats()
		return stale == 1
	})

	loop.Call(func() {
		view := trade.View()
		if view.Market.Symbol != ethMarket.Symbol {
			t.Errorf("Expected ETH view got %s", view.Market.Symbol)
		}
		if len(view.Candles) != 3 || view.Candles[2].Close != 12 {
			t.Errorf("Expected ETH candles to survive, got %+v", view.Candles)
		}
		if view.PriceText != "12.00" {
			t.Errorf("Expected price 12.00 got '%s'", view.PriceText)
		}
	})
}

func TestTrade_NoCredentialsMarkerWithoutPolling(t *testing.T) {
	loop := startLoop(t)
	gateway := &fakeGateway{
		ohlcv: func(ctx context.Context, symbol string) ([]models.Candle, error) { return candles(1, 2), nil },
	}
	trade := NewTrade(loop, gateway, withCreds(models.Credentials{APIKey: "only-key"}),
		TradeOptions{Timeframe: "5m", Limit: 100, Lookback: 5, OHLCVInterval: time.Hour, BalanceInterval: 5 * time.Millisecond},
		nil)

	loop.Call(func() { trade.Activate(btcMarket, nil) })
	time.Sleep(50 * time.Millisecond)

	loop.Call(func() {
		view := trade.View()
		if view.BaseBalance != BalanceNoCredentials || view.QuoteBalance != BalanceNoCredentials {
			t.Errorf("Expected no-credentials marker, got %s / %s", view.BaseBalance, view.QuoteBalance)
		}
		if trade.BalanceStream().Active() {
			t.Errorf("Expected balance stream not to run")
		}
	})
	if n := gateway.balanceCount(); n != 0 {
		t.Errorf("Expected no balance fetches, got %d", n)
	}
}

func TestTrade_Balances(t *testing.T) {
	loop := startLoop(t)
	gateway := &fakeGateway{
		ohlcv: func(ctx context.Context, symbol string) ([]models.Candle, error) { return candles(1, 2), nil },
		balances: func(ctx context.Context) (models.BalanceSnapshot, error) {
			return models.BalanceSnapshot{"USDT": 120.456}, nil
		},
	}
	trade := NewTrade(loop, gateway, withCreds(models.Credentials{APIKey: "k", APISecret: "s"}), testOptions, nil)

	loop.Call(func() { trade.Activate(btcMarket, nil) })
	eventually(t, loop, "balances", func() bool { return trade.View().QuoteBalance != BalanceLoading })

	loop.Call(func() {
		view := trade.View()
		if view.BaseBalance != "0.000000" {
			t.Errorf("Expected absent asset to show zero, got '%s'", view.BaseBalance)
		}
		if view.QuoteBalance != "120.46" {
			t.Errorf("Expected 120.46 got '%s'", view.QuoteBalance)
		}
		trade.RefreshBalances()
	})
	eventually(t, loop, "out-of-band refresh", func() bool { return gateway.balanceCount() == 2 })
}

func TestTrade_BalanceFailureKeepsStream(t *testing.T) {
	loop := startLoop(t)
	gateway := &fakeGateway{
		ohlcv: func(ctx context.Context, symbol string) ([]models.Candle, error) { return candles(1, 2), nil },
		balances: func(ctx context.Context) (models.BalanceSnapshot, error) {
			return nil, errors.New("timeout")
		},
	}
	trade := NewTrade(loop, gateway, withCreds(models.Credentials{APIKey: "k", APISecret: "s"}),
		TradeOptions{Timeframe: "5m", Limit: 100, Lookback: 5, OHLCVInterval: time.Hour, BalanceInterval: 10 * time.Millisecond}, nil)

	loop.Call(func() { trade.Activate(btcMarket, nil) })
	eventually(t, loop, "retries", func() bool { return gateway.balanceCount() >= 3 })

	loop.Call(func() {
		view := trade.View()
		if view.BaseBalance != BalanceError || !view.StatusIsError {
			t.Errorf("Expected balance error state, got %+v", view)
		}
		if !trade.BalanceStream().Active() {
			t.Errorf("Expected balance stream to keep running")
		}
		trade.Deactivate()
	})
}

func TestTrade_InsufficientCandles(t *testing.T) {
	loop := startLoop(t)
	gateway := &fakeGateway{
		ohlcv: func(ctx context.Context, symbol string) ([]models.Candle, error) { return candles(42), nil },
	}
	trade := NewTrade(loop, gateway, withCreds(models.Credentials{}), testOptions, nil)

	loop.Call(func() { trade.Activate(btcMarket, nil) })
	eventually(t, loop, "chart", func() bool { return trade.View().Chart != ChartLoading })

	loop.Call(func() {
		view := trade.View()
		if view.Chart != ChartInsufficient {
			t.Errorf("Expected insufficient chart, got %s", view.Chart)
		}
		if view.Prediction.Class != predictor.TrendInsufficient || view.Prediction.Price != 0 {
			t.Errorf("Expected no trend, got %+v", view.Prediction)
		}
		if view.LastPrice == nil || *view.LastPrice != 42 {
			t.Errorf("Expected last price from the only candle")
		}
	})
}

func TestTrade_Prediction(t *testing.T) {
	loop := startLoop(t)
	gateway := &fakeGateway{
		ohlcv: func(ctx context.Context, symbol string) ([]models.Candle, error) {
			return candles(100, 101, 102, 103, 104, 105), nil
		},
	}
	trade := NewTrade(loop, gateway, withCreds(models.Credentials{}), testOptions, nil)

	loop.Call(func() { trade.Activate(btcMarket, nil) })
	eventually(t, loop, "chart", func() bool { return trade.View().Chart == ChartReady })

	loop.Call(func() {
		p := trade.View().Prediction
		if p.Class != predictor.TrendUp || p.Price != 106 {
			t.Errorf("Unexpected prediction %+v", p)
		}
	})
}
