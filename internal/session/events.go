package session

import (
	"crypto-terminal/internal/feed"
	"crypto-terminal/internal/scheduler"
)

func (c *Controller) emit(ev feed.Event) {
	if c.publish != nil {
		c.publish(ev)
	}
}

func (c *Controller) publishSession() {
	creds := c.session.Credentials()
	c.emit(feed.Event{Kind: feed.KindSession, Data: map[string]interface{}{
		"login":           c.UserLogin(),
		"has_credentials": creds.Present(),
		"busy":            c.auth.Busy,
		"status":          c.auth.Status,
		"status_is_error": c.auth.StatusIsError,
	}})
}

func (c *Controller) publishCoinList() {
	view := c.coinList.View()
	rows := make([]interface{}, 0, len(view.Rows))
	for _, row := range view.Rows {
		rows = append(rows, map[string]interface{}{
			"symbol": row.Market.Symbol,
			"price":  row.PriceText,
		})
	}
	sortOrder := "asc"
	if view.Sort == scheduler.SortNameDesc {
		sortOrder = "desc"
	}
	c.emit(feed.Event{Kind: feed.KindCoinList, Data: map[string]interface{}{
		"rows":            rows,
		"search":          view.Search,
		"sort":            sortOrder,
		"loading":         view.Loading,
		"total":           view.TotalMarkets,
		"status":          view.Status,
		"status_is_error": view.StatusIsError,
	}})
}

func (c *Controller) publishTrade() {
	view := c.trade.View()
	if !view.Selected {
		return
	}
	data := map[string]interface{}{
		"price":           view.PriceText,
		"chart":           view.Chart.String(),
		"candles":         len(view.Candles),
		"prediction":      view.Prediction.Label,
		"trend":           string(view.Prediction.Class),
		"base_asset":      view.Market.BaseAsset,
		"quote_asset":     view.Market.QuoteAsset,
		"base_balance":    view.BaseBalance,
		"quote_balance":   view.QuoteBalance,
		"status":          view.Status,
		"status_is_error": view.StatusIsError,
	}
	if view.Prediction.Sufficient() {
		data["predicted_price"] = view.Prediction.Price
	}
	if n := len(view.Candles); n > 0 {
		last := view.Candles[n-1]
		data["last_candle"] = map[string]interface{}{
			"time":   last.Timestamp.UnixMilli(),
			"open":   last.Open,
			"high":   last.High,
			"low":    last.Low,
			"close":  last.Close,
			"volume": last.Volume,
		}
	}
	c.emit(feed.Event{Kind: feed.KindTrade, Symbol: view.Market.Symbol, Data: data})
}

func (c *Controller) publishOrder() {
	form := c.orders.Form()
	ev := feed.Event{Kind: feed.KindOrder, Data: map[string]interface{}{
		"amount":           form.Amount,
		"controls_enabled": form.ControlsEnabled,
		"in_flight":        c.orders.InFlight(),
		"status":           form.Status,
		"status_is_error":  form.StatusIsError,
	}}
	if view := c.trade.View(); view.Selected {
		ev.Symbol = view.Market.Symbol
	}
	c.emit(ev)
}
