package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crypto-terminal/internal/backend"
	"crypto-terminal/internal/common"
	"crypto-terminal/internal/exchanges"
	"crypto-terminal/internal/feed"
	"crypto-terminal/internal/order"
	"crypto-terminal/internal/scheduler"
	"crypto-terminal/internal/util"
	"crypto-terminal/pkg/models"
)

type Screen string

const (
	ScreenLogin    Screen = "login"
	ScreenRegister Screen = "register"
	ScreenCoinList Screen = "coinlist"
	ScreenTrade    Screen = "trade"
)

const minPasswordLength = 6

var (
	ErrVersionGate      = errors.New("client version rejected by backend")
	ErrMissingFields    = errors.New("all fields must be filled in")
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrAuthInFlight     = errors.New("authentication request already in progress")
	ErrNotLoggedIn      = errors.New("log in first")
	ErrUnknownSymbol    = errors.New("symbol is not in the displayed list")
	ErrWrongScreen      = errors.New("action is not available on this screen")
)

// Options configures the schedulers owned by the controller.
type Options struct {
	TickerInterval time.Duration
	MaxCoins       int
	Trade          scheduler.TradeOptions
	OrderTimeout   time.Duration
	AuthTimeout    time.Duration
}

// AuthView is the state of the login and register forms.
type AuthView struct {
	Busy          bool
	Status        string
	StatusIsError bool
}

// Controller owns navigation, the user identity and one scheduler per view.
// Every method must run on the loop.
type Controller struct {
	loop    *scheduler.Loop
	backend backend.Gateway
	session *exchanges.Session
	publish func(feed.Event)
	options Options
	logger  *util.Logger

	screen Screen
	user   *models.UserInfo
	auth   AuthView

	coinList *scheduler.CoinList
	trade    *scheduler.Trade
	orders   *order.Coordinator
}

// Bootstrap checks the client version before anything is built. A rejected
// version returns ErrVersionGate and build is never called.
func Bootstrap(ctx context.Context, checker backend.Gateway, version string, build func() *Controller) (*Controller, error) {
	ok, message := checker.CheckClientVersion(ctx, version)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionGate, message)
	}
	util.NewLogger("session").Info("Client version accepted", "version", version, "message", message)
	return build(), nil
}

// NewController wires the schedulers and the order coordinator. publish may
// be nil.
func NewController(loop *scheduler.Loop, backendGateway backend.Gateway, gateway exchanges.Gateway,
	session *exchanges.Session, options Options, publish func(feed.Event)) *Controller {
	if options.AuthTimeout <= 0 {
		options.AuthTimeout = common.AuthTimeoutSec * time.Second
	}
	if options.OrderTimeout <= 0 {
		options.OrderTimeout = common.DefaultExchangeTimeoutSec * time.Second
	}

	c := &Controller{
		loop:    loop,
		backend: backendGateway,
		session: session,
		publish: publish,
		options: options,
		logger:  util.NewLogger("session"),
		screen:  ScreenLogin,
	}
	c.coinList = scheduler.NewCoinList(loop, gateway, options.TickerInterval, options.MaxCoins, c.publishCoinList)
	c.trade = scheduler.NewTrade(loop, gateway, session.Credentials, options.Trade, c.publishTrade)
	c.orders = order.NewCoordinator(loop, gateway, session.Credentials, options.OrderTimeout,
		c.trade.RefreshBalances, c.publishOrder)
	return c
}

func (c *Controller) Screen() Screen {
	return c.screen
}

// ShowLogin stops every stream, ends the current user's session and shows
// the login form.
func (c *Controller) ShowLogin() {
	c.stopViews()
	c.logout()
	c.setScreen(ScreenLogin)
}

func (c *Controller) logout() {
	if c.user == nil && !c.session.Credentials().Present() {
		return
	}
	c.logger.Info("Session closed", "login", c.UserLogin())
	c.user = nil
	c.session.Reinitialize(models.Credentials{})
	c.publishSession()
}

func (c *Controller) ShowRegister() {
	c.stopViews()
	c.logout()
	c.setScreen(ScreenRegister)
}

// Login validates the form locally and authenticates on a worker.
func (c *Controller) Login(login, password string) error {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		c.setAuthStatus("Login and password must be filled in.", true)
		return ErrMissingFields
	}
	if c.auth.Busy {
		return ErrAuthInFlight
	}

	c.auth.Busy = true
	c.setAuthStatus("Logging in...", false)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.options.AuthTimeout)
		defer cancel()
		user, err := c.backend.Login(ctx, login, password)
		c.loop.Post(func() { c.completeLogin(user, err) })
	}()
	return nil
}

func (c *Controller) completeLogin(user *models.UserInfo, err error) {
	c.auth.Busy = false
	if err != nil {
		c.setAuthStatus(authMessage(err), true)
		return
	}
	if user == nil {
		c.setAuthStatus("Unknown error during login.", true)
		return
	}

	c.user = user
	c.session.Reinitialize(user.Credentials)
	c.logger.Info("Login successful", "login", user.Login, "has_keys", user.Credentials.Present())
	c.setAuthStatus(fmt.Sprintf("Welcome, %s!", user.Login), false)
	c.ShowCoinList()
}

// Register validates the form locally and creates the account on a worker.
// Success navigates to the login form.
func (c *Controller) Register(login, password, apiKey, apiSecret string) error {
	login, apiKey, apiSecret = strings.TrimSpace(login), strings.TrimSpace(apiKey), strings.TrimSpace(apiSecret)
	if login == "" || password == "" || apiKey == "" || apiSecret == "" {
		c.setAuthStatus("All fields must be filled in.", true)
		return ErrMissingFields
	}
	if len(password) < minPasswordLength {
		c.setAuthStatus(fmt.Sprintf("Password must be at least %d characters.", minPasswordLength), true)
		return ErrPasswordTooShort
	}
	if c.auth.Busy {
		return ErrAuthInFlight
	}

	c.auth.Busy = true
	c.setAuthStatus("Registering...", false)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.options.AuthTimeout)
		defer cancel()
		user, err := c.backend.Register(ctx, login, password, apiKey, apiSecret)
		c.loop.Post(func() { c.completeRegister(login, user, err) })
	}()
	return nil
}

func (c *Controller) completeRegister(login string, user *models.UserInfo, err error) {
	c.auth.Busy = false
	if err != nil {
		c.setAuthStatus(authMessage(err), true)
		return
	}
	if user != nil && user.Login != "" {
		login = user.Login
	}
	c.logger.Info("Registration successful", "login", login)
	c.setScreen(ScreenLogin)
	c.setAuthStatus(fmt.Sprintf("User %s registered. You can log in now.", login), false)
}

func authMessage(err error) string {
	var rejection *backend.RejectionError
	if errors.As(err, &rejection) {
		return rejection.Detail
	}
	return err.Error()
}

// UpdateCredentials replaces the exchange keys of the session. An open trade
// screen is reactivated so the balance stream follows the new keys.
func (c *Controller) UpdateCredentials(apiKey, apiSecret string) error {
	if c.user == nil {
		return ErrNotLoggedIn
	}
	creds := models.Credentials{APIKey: strings.TrimSpace(apiKey), APISecret: strings.TrimSpace(apiSecret)}
	c.session.Reinitialize(creds)
	c.user.Credentials = creds
	c.logger.Info("Credentials updated", "login", c.user.Login, "has_keys", creds.Present())
	c.publishSession()

	if c.screen == ScreenTrade {
		view := c.trade.View()
		c.trade.Activate(view.Market, view.LastPrice)
	}
	return nil
}

// ShowCoinList stops the trade streams and shows the market list.
func (c *Controller) ShowCoinList() {
	c.trade.Deactivate()
	c.setScreen(ScreenCoinList)
	c.coinList.Activate()
}

// OpenTrade switches to the trade screen of a displayed market, using its
// list price as the initial price.
func (c *Controller) OpenTrade(symbol string) error {
	if c.screen != ScreenCoinList {
		return ErrWrongScreen
	}
	row, ok := c.coinList.Row(strings.TrimSpace(symbol))
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	c.coinList.Deactivate()
	c.orders.Reset(row.Market.Symbol)
	c.setScreen(ScreenTrade)
	c.trade.Activate(row.Market, row.LastPrice)
	return nil
}

// Back returns from the trade screen to the list.
func (c *Controller) Back() error {
	switch c.screen {
	case ScreenTrade:
		c.ShowCoinList()
	case ScreenRegister:
		c.ShowLogin()
	default:
		return ErrWrongScreen
	}
	return nil
}

func (c *Controller) Search(text string) error {
	if c.screen != ScreenCoinList {
		return ErrWrongScreen
	}
	c.coinList.SetSearch(text)
	return nil
}

func (c *Controller) Sort(order scheduler.SortOrder) error {
	if c.screen != ScreenCoinList {
		return ErrWrongScreen
	}
	c.coinList.SetSort(order)
	return nil
}

// Refresh fetches the data of the current screen outside the schedule.
func (c *Controller) Refresh() error {
	switch c.screen {
	case ScreenCoinList:
		if c.coinList.MarketCount() == 0 {
			c.coinList.LoadMarkets()
		} else {
			c.coinList.RefreshPrices()
		}
	case ScreenTrade:
		c.trade.RefreshChart()
		if c.session.Credentials().Present() {
			c.trade.RefreshBalances()
		}
	default:
		return ErrWrongScreen
	}
	return nil
}

// Buy submits a market buy of amount base units.
func (c *Controller) Buy(amount string) error {
	return c.submit(models.SideBuy, amount)
}

// Sell submits a market sell of amount base units.
func (c *Controller) Sell(amount string) error {
	return c.submit(models.SideSell, amount)
}

func (c *Controller) submit(side models.Side, amount string) error {
	var market *models.Market
	var lastPrice *float64
	if c.screen == ScreenTrade {
		view := c.trade.View()
		if view.Selected {
			market = &view.Market
			lastPrice = view.LastPrice
		}
	}
	c.orders.SetAmount(amount)
	return c.orders.Submit(market, side, lastPrice)
}

// Shutdown stops every stream. Late worker results are discarded.
func (c *Controller) Shutdown() {
	c.stopViews()
}

func (c *Controller) stopViews() {
	c.coinList.Deactivate()
	c.trade.Deactivate()
}

func (c *Controller) setScreen(screen Screen) {
	c.screen = screen
	if screen == ScreenLogin || screen == ScreenRegister {
		c.auth.Status = ""
		c.auth.StatusIsError = false
	}
	c.logger.Debug("Screen changed", "screen", string(screen))
	c.emit(feed.Event{Kind: feed.KindScreen, Data: map[string]interface{}{
		"screen": string(screen),
		"login":  c.UserLogin(),
	}})
}

func (c *Controller) setAuthStatus(text string, isError bool) {
	c.auth.Status = text
	c.auth.StatusIsError = isError
	c.publishSession()
}

// UserLogin returns the logged in user name, or an empty string.
func (c *Controller) UserLogin() string {
	if c.user == nil {
		return ""
	}
	return c.user.Login
}

func (c *Controller) User() *models.UserInfo {
	return c.user
}

func (c *Controller) Auth() AuthView {
	return c.auth
}

func (c *Controller) CoinList() scheduler.CoinListView {
	return c.coinList.View()
}

func (c *Controller) Trade() scheduler.TradeView {
	return c.trade.View()
}

func (c *Controller) OrderForm() order.Form {
	return c.orders.Form()
}

func (c *Controller) LastOrder() *order.Outcome {
	return c.orders.LastOutcome()
}
