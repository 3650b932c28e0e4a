package exchanges

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crypto-terminal/internal/common"
	"crypto-terminal/internal/util"
	"crypto-terminal/pkg/models"
)

const (
	mexcExchangeInfoPath = "/api/v3/exchangeInfo"
	mexcTicker24hPath    = "/api/v3/ticker/24hr"
	mexcKlinesPath       = "/api/v3/klines"
	mexcAccountPath      = "/api/v3/account"
	mexcOrderPath        = "/api/v3/order"

	mexcAPIKeyHeader = "X-MEXC-APIKEY"
)

type mexcSymbol struct {
	Symbol               string `json:"symbol"`
	Status               string `json:"status"`
	BaseAsset            string `json:"baseAsset"`
	QuoteAsset           string `json:"quoteAsset"`
	BaseAssetPrecision   int    `json:"baseAssetPrecision"`
	QuotePrecision       int    `json:"quotePrecision"`
	QuoteAssetPrecision  int    `json:"quoteAssetPrecision"`
	BaseSizePrecision    string `json:"baseSizePrecision"`
	QuoteAmountPrecision string `json:"quoteAmountPrecision"`
	IsSpotTradingAllowed bool   `json:"isSpotTradingAllowed"`
}

type mexcTicker struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	BidPrice    string `json:"bidPrice"`
	AskPrice    string `json:"askPrice"`
	QuoteVolume string `json:"quoteVolume"`
	CloseTime   int64  `json:"closeTime"`
}

type mexcBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type mexcOrderAck struct {
	Symbol   string `json:"symbol"`
	OrderID  string `json:"orderId"`
	OrigQty  string `json:"origQty"`
	Side     string `json:"side"`
	Executed string `json:"executedQty"`
}

type mexcErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type restOption struct {
	method string
	path   string
	params url.Values
	signed bool
}

// MEXC implements Gateway over the MEXC spot v3 REST API.
type MEXC struct {
	baseURL    string
	restClient *http.Client
	session    *Session
	recvWindow int
	logger     *util.Logger
	now        func() time.Time

	mu      sync.RWMutex
	markets map[string]models.Market
}

func NewMEXC(baseURL string, session *Session, timeout time.Duration, recvWindowMs int) *MEXC {
	return &MEXC{
		baseURL:    strings.TrimRight(baseURL, "/"),
		restClient: &http.Client{Timeout: timeout},
		session:    session,
		recvWindow: recvWindowMs,
		logger:     util.NewLogger("mexc"),
		now:        time.Now,
		markets:    make(map[string]models.Market),
	}
}

func (e *MEXC) sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (e *MEXC) restAPI(ctx context.Context, option *restOption) ([]byte, error) {
	params := option.params
	if params == nil {
		params = url.Values{}
	}

	var apiKey string
	queryString := params.Encode()
	if option.signed {
		creds := e.session.Credentials()
		if !creds.Present() {
			return nil, ErrNoCredentials
		}
		apiKey = creds.APIKey
		params.Set("timestamp", strconv.FormatInt(e.now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.Itoa(e.recvWindow))
		queryString = params.Encode()
		queryString += "&signature=" + e.sign(creds.APISecret, queryString)
	}

	target := e.baseURL + option.path
	if queryString != "" {
		target += "?" + queryString
	}

	req, err := http.NewRequestWithContext(ctx, option.method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set(mexcAPIKeyHeader, apiKey)
	}

	resp, err := e.restClient.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	var errBody mexcErrorBody
	if err := json.Unmarshal(body, &errBody); err != nil || errBody.Msg == "" {
		errBody.Msg = strings.TrimSpace(string(body))
		if len(errBody.Msg) > 200 {
			errBody.Msg = errBody.Msg[:200]
		}
		if errBody.Msg == "" {
			errBody.Msg = resp.Status
		}
	}
	return nil, &APIError{
		Status: resp.StatusCode,
		Code:   errBody.Code,
		Msg:    errBody.Msg,
		kind:   classify(errBody.Code),
	}
}

// LoadMarkets returns active spot USDT markets sorted by symbol and replaces
// the cached market set used for rounding.
func (e *MEXC) LoadMarkets(ctx context.Context) ([]models.Market, error) {
	data, err := e.restAPI(ctx, &restOption{method: http.MethodGet, path: mexcExchangeInfoPath})
	if err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}

	var info struct {
		Symbols []mexcSymbol `json:"symbols"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("load markets: decode: %w", err)
	}

	markets := make([]models.Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		market, ok := e.toMarket(s)
		if !ok {
			continue
		}
		markets = append(markets, market)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })

	index := make(map[string]models.Market, len(markets))
	for _, m := range markets {
		index[m.Symbol] = m
	}
	e.mu.Lock()
	e.markets = index
	e.mu.Unlock()

	e.logger.Debug("Markets loaded", "count", len(markets))
	return markets, nil
}

func (e *MEXC) toMarket(s mexcSymbol) (models.Market, bool) {
	active := s.Status == "1" || strings.EqualFold(s.Status, "ENABLED")
	if !active || !s.IsSpotTradingAllowed || !strings.EqualFold(s.QuoteAsset, common.QuoteAssetUSDT) {
		return models.Market{}, false
	}

	symbol := util.SymbolFromAssets(s.BaseAsset, s.QuoteAsset)

	var amountRaw interface{} = s.BaseAssetPrecision
	minAmount := positive(s.BaseSizePrecision)
	if minAmount != nil {
		amountRaw = s.BaseSizePrecision
	}

	price := e.derive(symbol, "price", s.QuotePrecision)
	amount := e.derive(symbol, "amount", amountRaw)
	cost := e.derive(symbol, "cost", s.QuoteAssetPrecision)

	return models.Market{
		Symbol:          symbol,
		BaseAsset:       strings.ToUpper(s.BaseAsset),
		QuoteAsset:      strings.ToUpper(s.QuoteAsset),
		ExchangeID:      s.Symbol,
		PricePrecision:  price.Digits,
		AmountPrecision: amount.Digits,
		CostPrecision:   cost.Digits,
		MinAmount:       minAmount,
		MinCost:         positive(s.QuoteAmountPrecision),
		Active:          true,
	}, true
}

func (e *MEXC) derive(symbol, field string, raw interface{}) Precision {
	p := DerivePrecision(raw)
	if p.Defaulted {
		e.logger.Warn(common.ErrCodePrecisionDefaulted, common.ErrMsgPrecisionDefaulted,
			"Using default precision", "symbol", symbol, "field", field, "raw", raw)
	}
	return p
}

func positive(s string) *float64 {
	v := util.ParseOptionalFloat(s)
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

func (e *MEXC) market(symbol string) (models.Market, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[symbol]
	return m, ok
}

func (e *MEXC) exchangeID(symbol string) string {
	if m, ok := e.market(symbol); ok && m.ExchangeID != "" {
		return m.ExchangeID
	}
	return util.SymbolToMEXC(symbol)
}

// FetchTickers returns tickers for the requested symbols only. Symbols without
// a last price are omitted.
func (e *MEXC) FetchTickers(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
	result := make(map[string]models.Ticker, len(symbols))
	if len(symbols) == 0 {
		return result, nil
	}

	wanted := make(map[string]string, len(symbols))
	for _, s := range symbols {
		wanted[e.exchangeID(s)] = s
	}

	option := &restOption{method: http.MethodGet, path: mexcTicker24hPath}
	if len(symbols) == 1 {
		option.params = url.Values{"symbol": {e.exchangeID(symbols[0])}}
	}
	data, err := e.restAPI(ctx, option)
	if err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}

	var raw []mexcTicker
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var single mexcTicker
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("fetch tickers: decode: %w", err)
		}
		raw = append(raw, single)
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("fetch tickers: decode: %w", err)
	}

	for _, t := range raw {
		symbol, ok := wanted[t.Symbol]
		if !ok {
			continue
		}
		last := util.ParseOptionalFloat(t.LastPrice)
		if last == nil {
			continue
		}
		ticker := models.Ticker{
			Symbol:    symbol,
			LastPrice: last,
			Bid:       util.ParseOptionalFloat(t.BidPrice),
			Ask:       util.ParseOptionalFloat(t.AskPrice),
			Volume:    util.ParseOptionalFloat(t.QuoteVolume),
		}
		if t.CloseTime > 0 {
			ts := t.CloseTime
			ticker.Timestamp = &ts
		}
		result[symbol] = ticker
	}
	return result, nil
}

// FetchOHLCV returns candles oldest first.
func (e *MEXC) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	data, err := e.restAPI(ctx, &restOption{
		method: http.MethodGet,
		path:   mexcKlinesPath,
		params: url.Values{
			"symbol":   {e.exchangeID(symbol)},
			"interval": {timeframe},
			"limit":    {strconv.Itoa(limit)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch ohlcv %s: %w", symbol, err)
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("fetch ohlcv %s: decode: %w", symbol, err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var values [6]float64
		for i := 0; i < 6; i++ {
			v, err := rawNumber(row[i])
			if err != nil {
				return nil, fmt.Errorf("fetch ohlcv %s: field %d: %w", symbol, i, err)
			}
			values[i] = v
		}
		candles = append(candles, models.Candle{
			Timestamp: time.UnixMilli(int64(values[0])),
			Open:      values[1],
			High:      values[2],
			Low:       values[3],
			Close:     values[4],
			Volume:    values[5],
		})
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	return candles, nil
}

// rawNumber accepts both JSON numbers and numeric strings.
func rawNumber(raw json.RawMessage) (float64, error) {
	s := strings.Trim(string(raw), `"`)
	return strconv.ParseFloat(s, 64)
}

func (e *MEXC) FetchBalances(ctx context.Context) (models.BalanceSnapshot, error) {
	data, err := e.restAPI(ctx, &restOption{method: http.MethodGet, path: mexcAccountPath, signed: true})
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}

	var account struct {
		Balances []mexcBalance `json:"balances"`
	}
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("fetch balances: decode: %w", err)
	}

	snapshot := make(models.BalanceSnapshot, len(account.Balances))
	for _, b := range account.Balances {
		snapshot[strings.ToUpper(b.Asset)] = util.ParseFloat(b.Free)
	}
	return snapshot, nil
}

// RoundAmount truncates amount to the market's amount precision.
func (e *MEXC) RoundAmount(symbol string, amount float64) (float64, error) {
	m, ok := e.market(symbol)
	if !ok {
		return 0, fmt.Errorf("%w: market %s is not loaded", ErrPrecision, symbol)
	}
	return truncate(amount, m.AmountPrecision)
}

// RoundCost truncates cost to the market's cost precision.
func (e *MEXC) RoundCost(symbol string, cost float64) (float64, error) {
	m, ok := e.market(symbol)
	if !ok {
		return 0, fmt.Errorf("%w: market %s is not loaded", ErrPrecision, symbol)
	}
	return truncate(cost, m.CostPrecision)
}

func truncate(v float64, digits int) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v is not a finite number", ErrPrecision, v)
	}
	rounded, _ := decimal.NewFromFloat(v).Truncate(int32(digits)).Float64()
	return rounded, nil
}

// CreateMarketOrder places a market order. For buy orders amount is the quote
// cost to spend; for sell orders it is the base quantity.
func (e *MEXC) CreateMarketOrder(ctx context.Context, symbol string, side models.Side, amount float64) (*models.OrderResult, error) {
	params := url.Values{
		"symbol":           {e.exchangeID(symbol)},
		"type":             {"MARKET"},
		"newClientOrderId": {strings.ReplaceAll(uuid.NewString(), "-", "")},
	}
	size := decimal.NewFromFloat(amount).String()
	switch side {
	case models.SideBuy:
		params.Set("side", "BUY")
		params.Set("quoteOrderQty", size)
	case models.SideSell:
		params.Set("side", "SELL")
		params.Set("quantity", size)
	default:
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, side)
	}
	clientOrderID := params.Get("newClientOrderId")

	data, err := e.restAPI(ctx, &restOption{method: http.MethodPost, path: mexcOrderPath, params: params, signed: true})
	if err != nil {
		return nil, fmt.Errorf("create %s order %s: %w", side, symbol, err)
	}

	var ack mexcOrderAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, fmt.Errorf("create %s order %s: decode: %w", side, symbol, err)
	}

	result := &models.OrderResult{
		ID:            ack.OrderID,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Amount:        amount,
		Filled:        util.ParseFloat(ack.Executed),
	}
	if result.Filled == 0 && ack.OrderID != "" {
		if filled, err := e.queryFilled(ctx, symbol, ack.OrderID); err == nil {
			result.Filled = filled
		} else {
			e.logger.Debug("Order status query failed", "symbol", symbol, "order_id", ack.OrderID, "error", err.Error())
		}
	}
	return result, nil
}

func (e *MEXC) queryFilled(ctx context.Context, symbol, orderID string) (float64, error) {
	data, err := e.restAPI(ctx, &restOption{
		method: http.MethodGet,
		path:   mexcOrderPath,
		params: url.Values{"symbol": {e.exchangeID(symbol)}, "orderId": {orderID}},
		signed: true,
	})
	if err != nil {
		return 0, err
	}
	var status mexcOrderAck
	if err := json.Unmarshal(data, &status); err != nil {
		return 0, err
	}
	return util.ParseFloat(status.Executed), nil
}
