package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"crypto-terminal/internal/common"
	"crypto-terminal/internal/exchanges"
	"crypto-terminal/internal/util"
	"crypto-terminal/pkg/models"
)

const (
	coinListSubject = "coinlist"
	marketsSubject  = "markets"

	// PricePlaceholder is shown until a ticker arrives.
	PricePlaceholder = "---"
)

type SortOrder int

const (
	SortNameAsc SortOrder = iota
	SortNameDesc
)

// CoinRow is one displayed market.
type CoinRow struct {
	Market    models.Market
	PriceText string
	LastPrice *float64
}

// CoinListView is the view model of the market list screen.
type CoinListView struct {
	Rows          []CoinRow
	Search        string
	Sort          SortOrder
	Loading       bool
	ControlsReady bool
	Status        string
	StatusIsError bool
	TotalMarkets  int
}

// CoinList keeps the market list and the prices of displayed rows fresh.
type CoinList struct {
	loop     *Loop
	gateway  exchanges.Gateway
	maxCoins int
	notify   func()
	logger   *util.Logger

	view    CoinListView
	markets []models.Market
	prices  map[string]float64

	marketStream *Stream[[]models.Market]
	tickerStream *Stream[map[string]models.Ticker]
}

// NewCoinList creates the list scheduler. notify runs on the loop after every
// view change and may be nil.
func NewCoinList(loop *Loop, gateway exchanges.Gateway, tickerInterval time.Duration, maxCoins int, notify func()) *CoinList {
	if maxCoins <= 0 {
		maxCoins = common.MaxCoinsToDisplay
	}
	c := &CoinList{
		loop:     loop,
		gateway:  gateway,
		maxCoins: maxCoins,
		notify:   notify,
		logger:   util.NewLogger("coinlist"),
		prices:   make(map[string]float64),
	}
	c.marketStream = NewStream("markets", loop, 0, c.buildMarkets, c.applyMarkets)
	c.tickerStream = NewStream("tickers", loop, tickerInterval, c.buildTickers, c.applyTickers)
	return c
}

// Activate shows the list. Markets are loaded on the first activation, the
// ticker stream restarts every time.
func (c *CoinList) Activate() {
	if len(c.markets) == 0 {
		c.LoadMarkets()
	}
	c.tickerStream.Start(coinListSubject)
	c.changed()
}

// Deactivate stops every stream of the list.
func (c *CoinList) Deactivate() {
	c.tickerStream.Stop()
	c.marketStream.Stop()
	if c.view.Loading {
		c.view.Loading = false
		c.view.ControlsReady = len(c.markets) > 0
	}
}

// LoadMarkets reloads the full market set. A load already in flight absorbs
// the request.
func (c *CoinList) LoadMarkets() {
	if c.marketStream.State() == Fetching {
		return
	}
	c.view.Loading = true
	c.view.ControlsReady = false
	c.setStatus("Loading markets...", false)
	c.marketStream.Start(marketsSubject)
}

func (c *CoinList) buildMarkets(string) Job[[]models.Market] {
	return func(ctx context.Context) ([]models.Market, error) {
		return c.gateway.LoadMarkets(ctx)
	}
}

func (c *CoinList) applyMarkets(_ string, markets []models.Market, err error) {
	c.marketStream.Stop()
	c.view.Loading = false
	c.view.ControlsReady = true

	if err != nil {
		c.logger.Error(err, common.ErrCodeMarketsLoadFailed, common.ErrMsgMarketsLoadFailed, "Markets load failed")
		c.setStatus(fmt.Sprintf("Markets error: %s", err), true)
		return
	}
	if len(markets) == 0 {
		c.setStatus("No markets loaded.", true)
		return
	}

	c.markets = markets
	c.view.TotalMarkets = len(markets)
	c.refreshRows()
}

// SetSearch filters the displayed rows by a case-insensitive substring.
func (c *CoinList) SetSearch(text string) {
	c.view.Search = strings.TrimSpace(text)
	c.refreshRows()
}

func (c *CoinList) SetSort(order SortOrder) {
	c.view.Sort = order
	c.refreshRows()
}

func (c *CoinList) refreshRows() {
	needle := strings.ToLower(c.view.Search)
	filtered := make([]models.Market, 0, len(c.markets))
	for _, m := range c.markets {
		if needle == "" || strings.Contains(strings.ToLower(m.Symbol), needle) {
			filtered = append(filtered, m)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if c.view.Sort == SortNameDesc {
			return filtered[i].Symbol > filtered[j].Symbol
		}
		return filtered[i].Symbol < filtered[j].Symbol
	})
	if len(filtered) > c.maxCoins {
		filtered = filtered[:c.maxCoins]
	}

	rows := make([]CoinRow, 0, len(filtered))
	for _, m := range filtered {
		row := CoinRow{Market: m, PriceText: PricePlaceholder}
		if price, ok := c.prices[m.Symbol]; ok {
			p := price
			row.LastPrice = &p
			row.PriceText = util.FormatFixed(price, m.PricePrecision)
		}
		rows = append(rows, row)
	}
	c.view.Rows = rows
	c.setStatus(fmt.Sprintf("Displayed: %d.", len(rows)), false)

	if len(rows) > 0 {
		c.tickerStream.RefreshNow()
	}
}

// buildTickers snapshots the displayed symbols; with nothing displayed no
// fetch is made.
func (c *CoinList) buildTickers(string) Job[map[string]models.Ticker] {
	if len(c.view.Rows) == 0 {
		return nil
	}
	symbols := make([]string, len(c.view.Rows))
	for i, row := range c.view.Rows {
		symbols[i] = row.Market.Symbol
	}
	return func(ctx context.Context) (map[string]models.Ticker, error) {
		return c.gateway.FetchTickers(ctx, symbols)
	}
}

func (c *CoinList) applyTickers(_ string, tickers map[string]models.Ticker, err error) {
	if err != nil {
		c.logger.Error(err, common.ErrCodeTickersFetchFailed, common.ErrMsgTickersFetchFailed, "Tickers fetch failed")
		c.setStatus(fmt.Sprintf("Price error: %s", err), true)
		return
	}

	updated := 0
	for i := range c.view.Rows {
		row := &c.view.Rows[i]
		ticker, ok := tickers[row.Market.Symbol]
		if !ok || ticker.LastPrice == nil {
			continue
		}
		price := *ticker.LastPrice
		c.prices[row.Market.Symbol] = price
		row.LastPrice = &price
		row.PriceText = util.FormatFixed(price, row.Market.PricePrecision)
		updated++
	}
	c.setStatus(fmt.Sprintf("Prices updated (%d). Displayed: %d", updated, len(c.view.Rows)), false)
}

// Row returns the displayed row for symbol.
func (c *CoinList) Row(symbol string) (CoinRow, bool) {
	for _, row := range c.view.Rows {
		if strings.EqualFold(row.Market.Symbol, symbol) {
			return row, true
		}
	}
	return CoinRow{}, false
}

// MarketCount is the number of loaded markets before any search filter.
func (c *CoinList) MarketCount() int {
	return len(c.markets)
}

// RefreshPrices fetches tickers outside the periodic schedule.
func (c *CoinList) RefreshPrices() {
	c.tickerStream.RefreshNow()
}

func (c *CoinList) setStatus(text string, isError bool) {
	c.view.Status = text
	c.view.StatusIsError = isError
	c.changed()
}

func (c *CoinList) changed() {
	if c.notify != nil {
		c.notify()
	}
}

// View returns a copy of the view model.
func (c *CoinList) View() CoinListView {
	v := c.view
	v.Rows = append([]CoinRow(nil), c.view.Rows...)
	return v
}

// TickerStream exposes the ticker stream for status reporting.
func (c *CoinList) TickerStream() *Stream[map[string]models.Ticker] {
	return c.tickerStream
}
