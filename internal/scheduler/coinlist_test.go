package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"crypto-terminal/pkg/models"
)

func symbolsOf(rows []CoinRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Market.Symbol
	}
	return out
}

func TestCoinList_PartialTickersLeaveRowsUnchanged(t *testing.T) {
	loop := startLoop(t)
	var round atomic.Int32
	gateway := &fakeGateway{
		markets: func(ctx context.Context) ([]models.Market, error) {
			return []models.Market{solMarket, btcMarket, ethMarket}, nil
		},
		tickers: func(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
			if round.Add(1) == 1 {
				return map[string]models.Ticker{
					"BTC/USDT": {Symbol: "BTC/USDT", LastPrice: price(65000.123)},
					"SOL/USDT": {Symbol: "SOL/USDT", LastPrice: price(150.5)},
				}, nil
			}
			return map[string]models.Ticker{
				"SOL/USDT": {Symbol: "SOL/USDT", LastPrice: price(151)},
				"ETH/USDT": {Symbol: "ETH/USDT"},
			}, nil
		},
	}
	list := NewCoinList(loop, gateway, time.Hour, 50, nil)

	loop.Call(func() { list.Activate() })
	eventually(t, loop, "first prices", func() bool {
		row, ok := list.Row("BTC/USDT")
		return ok && row.PriceText != PricePlaceholder
	})

	loop.Call(func() { list.RefreshPrices() })
	eventually(t, loop, "second prices", func() bool {
		row, _ := list.Row("SOL/USDT")
		return row.PriceText == "151.000"
	})

	loop.Call(func() {
		rows := list.View().Rows
		if !reflect.DeepEqual(symbolsOf(rows), []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}) {
			t.Errorf("Unexpected rows %v", symbolsOf(rows))
		}
		if rows[0].PriceText != "65000.12" {
			t.Errorf("Expected BTC price to stay 65000.12, got '%s'", rows[0].PriceText)
		}
		if rows[1].PriceText != PricePlaceholder {
			t.Errorf("Expected ETH without last price to stay unset, got '%s'", rows[1].PriceText)
		}
	})

	for _, req := range gateway.tickerRequests() {
		if len(req) != 3 {
			t.Errorf("Expected only displayed symbols in the request, got %v", req)
		}
	}
}

func TestCoinList_SearchSortAndLimit(t *testing.T) {
	loop := startLoop(t)
	var markets []models.Market
	for i := 0; i < 60; i++ {
		markets = append(markets, models.Market{Symbol: fmt.Sprintf("C%02d/USDT", i), PricePrecision: 2})
	}
	markets = append(markets, btcMarket)
	gateway := &fakeGateway{
		markets: func(ctx context.Context) ([]models.Market, error) { return markets, nil },
		tickers: func(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
			return map[string]models.Ticker{}, nil
		},
	}
	list := NewCoinList(loop, gateway, time.Hour, 50, nil)

	loop.Call(func() { list.Activate() })
	eventually(t, loop, "markets", func() bool { return len(list.View().Rows) > 0 })

	loop.Call(func() {
		view := list.View()
		if len(view.Rows) != 50 || view.TotalMarkets != 61 {
			t.Errorf("Expected 50 of 61 rows, got %d of %d", len(view.Rows), view.TotalMarkets)
		}
		if view.Rows[0].Market.Symbol != "BTC/USDT" {
			t.Errorf("Expected ascending order, got %s first", view.Rows[0].Market.Symbol)
		}

		list.SetSort(SortNameDesc)
		if first := list.View().Rows[0].Market.Symbol; first != "C59/USDT" {
			t.Errorf("Expected descending order, got %s first", first)
		}

		list.SetSearch("btc")
		if got := symbolsOf(list.View().Rows); !reflect.DeepEqual(got, []string{"BTC/USDT"}) {
			t.Errorf("Expected case-insensitive search to match BTC, got %v", got)
		}
	})
}

func TestCoinList_MarketsLoadFailure(t *testing.T) {
	loop := startLoop(t)
	gateway := &fakeGateway{
		markets: func(ctx context.Context) ([]models.Market, error) { return nil, errors.New("offline") },
		tickers: func(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
			t.Error("tickers must not be fetched without rows")
			return nil, nil
		},
	}
	list := NewCoinList(loop, gateway, time.Hour, 50, nil)

	loop.Call(func() { list.Activate() })
	eventually(t, loop, "failure status", func() bool { return list.View().StatusIsError })

	loop.Call(func() {
		view := list.View()
		if view.Loading || !view.ControlsReady {
			t.Errorf("Expected controls re-enabled after failure")
		}
		if len(view.Rows) != 0 {
			t.Errorf("Expected no rows")
		}
	})
}

func TestCoinList_LoadMarketsSingleFlight(t *testing.T) {
	loop := startLoop(t)
	release := make(chan struct{})
	var calls atomic.Int32
	gateway := &fakeGateway{
		markets: func(ctx context.Context) ([]models.Market, error) {
			calls.Add(1)
			<-release
			return []models.Market{btcMarket}, nil
		},
		tickers: func(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
			return nil, nil
		},
	}
	list := NewCoinList(loop, gateway, time.Hour, 50, nil)

	loop.Call(func() {
		list.Activate()
		list.LoadMarkets()
		list.LoadMarkets()
	})
	close(release)
	eventually(t, loop, "markets", func() bool { return len(list.View().Rows) == 1 })

	if n := calls.Load(); n != 1 {
		t.Errorf("Expected one markets load, got %d", n)
	}
}
