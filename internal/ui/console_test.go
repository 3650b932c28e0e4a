package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"crypto-terminal/internal/exchanges"
	"crypto-terminal/internal/feed"
	"crypto-terminal/internal/scheduler"
	"crypto-terminal/internal/session"
	"crypto-terminal/pkg/models"
)

type stubBackend struct{}

func (stubBackend) CheckClientVersion(ctx context.Context, version string) (bool, string) {
	return true, "ok"
}

func (stubBackend) Register(ctx context.Context, login, password, key, secret string) (*models.UserInfo, error) {
	return &models.UserInfo{Login: login}, nil
}

func (stubBackend) Login(ctx context.Context, login, password string) (*models.UserInfo, error) {
	return &models.UserInfo{Login: login}, nil
}

type stubExchange struct{}

var eth = models.Market{Symbol: "ETH/USDT", BaseAsset: "ETH", QuoteAsset: "USDT", PricePrecision: 2, AmountPrecision: 4, CostPrecision: 2}

func (stubExchange) LoadMarkets(ctx context.Context) ([]models.Market, error) {
	return []models.Market{eth}, nil
}

func (stubExchange) FetchTickers(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
	price := 3000.5
	return map[string]models.Ticker{"ETH/USDT": {Symbol: "ETH/USDT", LastPrice: &price}}, nil
}

func (stubExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return []models.Candle{{Close: 3000}, {Close: 3001}}, nil
}

func (stubExchange) FetchBalances(ctx context.Context) (models.BalanceSnapshot, error) {
	return models.BalanceSnapshot{}, nil
}

func (stubExchange) RoundAmount(symbol string, amount float64) (float64, error) { return amount, nil }
func (stubExchange) RoundCost(symbol string, cost float64) (float64, error)     { return cost, nil }

func (stubExchange) CreateMarketOrder(ctx context.Context, symbol string, side models.Side, amount float64) (*models.OrderResult, error) {
	return &models.OrderResult{ID: "7", Symbol: symbol, Side: side, Amount: amount}, nil
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newConsole(t *testing.T, publish func(feed.Event)) (*Console, *safeBuffer, *scheduler.Loop) {
	t.Helper()
	loop := scheduler.NewLoop(64)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)

	options := session.Options{
		TickerInterval: time.Hour,
		MaxCoins:       50,
		Trade:          scheduler.TradeOptions{Timeframe: "5m", Limit: 100, Lookback: 5, OHLCVInterval: time.Hour, BalanceInterval: time.Hour},
	}
	controller := session.NewController(loop, stubBackend{}, stubExchange{},
		exchanges.NewSession(models.Credentials{}), options, publish)
	out := &safeBuffer{}
	return NewConsole(loop, controller, out), out, loop
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestExecute_Errors(t *testing.T) {
	console, _, _ := newConsole(t, nil)

	tests := []struct {
		line string
		want string
	}{
		{"frobnicate", "unknown command"},
		{"login alice", "usage: login"},
		{"sort sideways", "usage: sort"},
		{"buy", "usage: buy"},
		{"open BTC/USDT", session.ErrWrongScreen.Error()},
	}
	for _, test := range tests {
		err := console.Execute(test.line)
		if err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("Execute(%q) = %v, want error containing %q", test.line, err, test.want)
		}
	}
	if err := console.Execute("quit"); !errors.Is(err, ErrQuit) {
		t.Errorf("Expected ErrQuit, got %v", err)
	}
	if err := console.Execute("   "); err != nil {
		t.Errorf("Expected blank line to be ignored, got %v", err)
	}
}

func TestExecute_LoginOpenTrade(t *testing.T) {
	console, out, loop := newConsole(t, nil)

	if err := console.Execute("login alice secret"); err != nil {
		t.Fatalf("login Error: '%s'", err)
	}
	waitFor(t, "market list", func() bool {
		console.Render()
		return strings.Contains(out.String(), "ETH/USDT") && strings.Contains(out.String(), "3000.50")
	})

	if err := console.Execute("open eth/usdt"); err != nil {
		t.Fatalf("open Error: '%s'", err)
	}
	var screen session.Screen
	loop.Call(func() { screen = console.controller.Screen() })
	if screen != session.ScreenTrade {
		t.Fatalf("Expected trade screen, got %s", screen)
	}
	if !strings.Contains(out.String(), "== ETH/USDT ==") {
		t.Errorf("Expected trade header in output:\n%s", out.String())
	}

	if err := console.Execute("buy 1"); err == nil || !strings.Contains(err.Error(), "API keys") {
		t.Errorf("Expected missing keys error, got %v", err)
	}
	if err := console.Execute("back"); err != nil {
		t.Errorf("back Error: '%s'", err)
	}
}

func TestRun_HelpThenQuit(t *testing.T) {
	console, out, _ := newConsole(t, nil)

	err := console.Run(context.Background(), strings.NewReader("help\nquit\nhelp\n"))
	if err != nil {
		t.Fatalf("Run Error: '%s'", err)
	}
	if n := strings.Count(out.String(), "Commands:"); n != 1 {
		t.Errorf("Expected help printed once before quit, got %d", n)
	}
	if !strings.HasPrefix(out.String(), "== Login ==") {
		t.Errorf("Expected login screen first, got:\n%s", out.String())
	}
}

func TestFollow_PrintsCompletedStatus(t *testing.T) {
	hub := feed.NewHub(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	console, out, _ := newConsole(t, hub.Publish)
	events, unsubscribe := hub.Subscribe(feed.KindOrder, feed.KindSession)
	defer unsubscribe()
	go console.Follow(ctx, events)

	hub.Publish(feed.Event{Kind: feed.KindOrder, Data: map[string]interface{}{"status": "Sending buy order...", "in_flight": true}})
	hub.Publish(feed.Event{Kind: feed.KindOrder, Data: map[string]interface{}{"status": "Order (buy) ID:7.", "in_flight": false}})
	hub.Publish(feed.Event{Kind: feed.KindOrder, Data: map[string]interface{}{"status": "Order (buy) ID:7.", "in_flight": false}})

	waitFor(t, "order status", func() bool { return strings.Contains(out.String(), "> [order] Order (buy) ID:7.") })
	if strings.Contains(out.String(), "Sending") {
		t.Errorf("Expected in-flight status to be skipped")
	}
	if n := strings.Count(out.String(), "ID:7."); n != 1 {
		t.Errorf("Expected repeated status printed once, got %d", n)
	}
}
