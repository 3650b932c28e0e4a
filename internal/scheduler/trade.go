package scheduler

import (
	"context"
	"fmt"
	"time"

	"crypto-terminal/internal/common"
	"crypto-terminal/internal/exchanges"
	"crypto-terminal/internal/predictor"
	"crypto-terminal/internal/util"
	"crypto-terminal/pkg/models"
)

// Balance field markers.
const (
	BalanceLoading       = "loading..."
	BalanceNoCredentials = "No API"
	BalanceError         = "Error"
)

// ChartState tells the renderer what the chart area shows.
type ChartState int

const (
	ChartEmpty ChartState = iota
	ChartLoading
	ChartInsufficient
	ChartReady
	ChartError
)

func (s ChartState) String() string {
	switch s {
	case ChartLoading:
		return "loading"
	case ChartInsufficient:
		return "insufficient data"
	case ChartReady:
		return "ready"
	case ChartError:
		return "error"
	}
	return "empty"
}

// TradeView is the view model of the trade screen.
type TradeView struct {
	Market        models.Market
	Selected      bool
	LastPrice     *float64
	PriceText     string
	Candles       []models.Candle
	Chart         ChartState
	Prediction    predictor.Prediction
	BaseBalance   string
	QuoteBalance  string
	Balances      models.BalanceSnapshot
	Status        string
	StatusIsError bool
}

// TradeOptions configures the chart and polling of the trade screen.
type TradeOptions struct {
	Timeframe       string
	Limit           int
	Lookback        int
	OHLCVInterval   time.Duration
	BalanceInterval time.Duration
}

// Trade keeps the chart and balances of the selected market fresh.
type Trade struct {
	gateway     exchanges.Gateway
	credentials func() models.Credentials
	options     TradeOptions
	notify      func()
	logger      *util.Logger

	view TradeView

	ohlcvStream   *Stream[[]models.Candle]
	balanceStream *Stream[models.BalanceSnapshot]
}

// NewTrade creates the trade scheduler. credentials is read on every
// activation to decide whether the balance stream may run.
func NewTrade(loop *Loop, gateway exchanges.Gateway, credentials func() models.Credentials, options TradeOptions, notify func()) *Trade {
	t := &Trade{
		gateway:     gateway,
		credentials: credentials,
		options:     options,
		notify:      notify,
		logger:      util.NewLogger("trade"),
		view:        TradeView{PriceText: "N/A", BaseBalance: PricePlaceholder, QuoteBalance: PricePlaceholder},
	}
	t.ohlcvStream = NewStream("ohlcv", loop, options.OHLCVInterval, t.buildOHLCV, t.applyOHLCV)
	t.balanceStream = NewStream("balances", loop, options.BalanceInterval, t.buildBalances, t.applyBalances)
	return t
}

// Activate switches the screen to market. Work for the previous market is
// stopped before anything new starts. initialPrice is the list price, if known.
func (t *Trade) Activate(market models.Market, initialPrice *float64) {
	t.Deactivate()

	t.view = TradeView{
		Market:       market,
		Selected:     true,
		Chart:        ChartLoading,
		PriceText:    PricePlaceholder,
		BaseBalance:  BalanceLoading,
		QuoteBalance: BalanceLoading,
		Prediction:   predictor.Prediction{Label: "Loading chart..."},
	}
	if initialPrice != nil {
		p := *initialPrice
		t.view.LastPrice = &p
		t.view.PriceText = util.FormatFixed(p, market.PricePrecision)
	}

	t.ohlcvStream.Start(market.Symbol)
	if t.credentials().Present() {
		t.balanceStream.Start(market.Symbol)
	} else {
		t.view.BaseBalance = BalanceNoCredentials
		t.view.QuoteBalance = BalanceNoCredentials
	}
	t.changed()
}

// Deactivate stops both streams; late results are discarded.
func (t *Trade) Deactivate() {
	t.ohlcvStream.Stop()
	t.balanceStream.Stop()
}

func (t *Trade) buildOHLCV(symbol string) Job[[]models.Candle] {
	timeframe, limit := t.options.Timeframe, t.options.Limit
	return func(ctx context.Context) ([]models.Candle, error) {
		return t.gateway.FetchOHLCV(ctx, symbol, timeframe, limit)
	}
}

func (t *Trade) applyOHLCV(symbol string, candles []models.Candle, err error) {
	if !t.isActive(symbol) {
		return
	}
	if err != nil {
		t.logger.Error(err, common.ErrCodeOHLCVFetchFailed, common.ErrMsgOHLCVFetchFailed, "OHLCV fetch failed", "symbol", symbol)
		t.view.Chart = ChartError
		t.setStatus(fmt.Sprintf("Chart error: %s", err), true)
		return
	}

	t.view.Candles = candles
	if len(candles) == 0 {
		t.view.Chart = ChartInsufficient
		t.view.Prediction = predictor.Prediction{Label: "No chart data", Class: predictor.TrendInsufficient}
		t.view.LastPrice = nil
		t.view.PriceText = PricePlaceholder
		t.changed()
		return
	}

	last := candles[len(candles)-1].Close
	t.view.LastPrice = &last
	t.view.PriceText = util.FormatFixed(last, t.view.Market.PricePrecision)

	if len(candles) < 2 {
		t.view.Chart = ChartInsufficient
		t.view.Prediction = predictor.Prediction{Label: "Insufficient data", Class: predictor.TrendInsufficient}
		t.changed()
		return
	}

	t.view.Prediction = predictor.Predict(candles, t.options.Lookback)
	if t.view.Prediction.Sufficient() {
		t.view.Chart = ChartReady
	} else {
		t.view.Chart = ChartInsufficient
	}
	t.changed()
}

func (t *Trade) buildBalances(string) Job[models.BalanceSnapshot] {
	return func(ctx context.Context) (models.BalanceSnapshot, error) {
		return t.gateway.FetchBalances(ctx)
	}
}

func (t *Trade) applyBalances(symbol string, balances models.BalanceSnapshot, err error) {
	if !t.isActive(symbol) {
		return
	}
	if err != nil {
		t.logger.Error(err, common.ErrCodeBalancesFetchFailed, common.ErrMsgBalancesFetchFailed, "Balances fetch failed")
		t.view.BaseBalance = BalanceError
		t.view.QuoteBalance = BalanceError
		t.setStatus(fmt.Sprintf("Balance error: %s", exchanges.Category(err)), true)
		return
	}

	t.view.Balances = balances
	market := t.view.Market
	t.view.BaseBalance = util.FormatFixed(balances.Free(market.BaseAsset), market.AmountPrecision)
	t.view.QuoteBalance = util.FormatFixed(balances.Free(market.QuoteAsset), market.CostPrecision)
	t.changed()
}

// RefreshBalances fetches balances outside the periodic schedule.
func (t *Trade) RefreshBalances() {
	t.balanceStream.RefreshNow()
}

// RefreshChart fetches candles outside the periodic schedule.
func (t *Trade) RefreshChart() {
	t.ohlcvStream.RefreshNow()
}

func (t *Trade) isActive(symbol string) bool {
	return t.view.Selected && t.view.Market.Symbol == symbol
}

// SetStatus shows a message on the trade screen.
func (t *Trade) SetStatus(text string, isError bool) {
	t.setStatus(text, isError)
}

func (t *Trade) setStatus(text string, isError bool) {
	t.view.Status = text
	t.view.StatusIsError = isError
	t.changed()
}

func (t *Trade) changed() {
	if t.notify != nil {
		t.notify()
	}
}

// View returns a copy of the view model.
func (t *Trade) View() TradeView {
	v := t.view
	v.Candles = append([]models.Candle(nil), t.view.Candles...)
	return v
}

func (t *Trade) OHLCVStream() *Stream[[]models.Candle] {
	return t.ohlcvStream
}

func (t *Trade) BalanceStream() *Stream[models.BalanceSnapshot] {
	return t.balanceStream
}
