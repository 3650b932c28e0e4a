package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"crypto-terminal/internal/common"
	"crypto-terminal/internal/exchanges"
	"crypto-terminal/internal/scheduler"
	"crypto-terminal/internal/util"
	"crypto-terminal/pkg/models"
)

// Validation failures. None of them reaches the network.
var (
	ErrNoMarket      = errors.New("no trading pair selected")
	ErrNoCredentials = errors.New("API keys are not set for trading")
	ErrInFlight      = errors.New("previous order is still being processed")
	ErrInvalidAmount = errors.New("amount must be a positive number")
	ErrNoPrice       = errors.New("no price to size the buy order, wait for the chart to update")
	ErrBelowMinimum  = errors.New("order is below the market minimum")
	ErrUnknownSide   = errors.New("unknown order side")
	errRoundsToZero  = errors.New("amount rounds to zero at market precision")
)

// Form is the order entry state shown on the trade screen.
type Form struct {
	Amount          string
	ControlsEnabled bool
	Status          string
	StatusIsError   bool
}

// Outcome is delivered on the loop when a submission finishes.
type Outcome struct {
	Symbol    string
	Side      models.Side
	Submitted float64
	Result    *models.OrderResult
	Err       error
}

// Coordinator validates and submits market orders one at a time. All methods
// must be called on the loop.
type Coordinator struct {
	loop            *scheduler.Loop
	gateway         exchanges.Gateway
	credentials     func() models.Credentials
	refreshBalances func()
	notify          func()
	timeout         time.Duration
	logger          *util.Logger

	form     Form
	selected string
	inFlight bool
	last     *Outcome
}

// NewCoordinator creates a coordinator. refreshBalances is called exactly
// once after each successful order; notify after every form change.
func NewCoordinator(loop *scheduler.Loop, gateway exchanges.Gateway, credentials func() models.Credentials,
	timeout time.Duration, refreshBalances, notify func()) *Coordinator {
	return &Coordinator{
		loop:            loop,
		gateway:         gateway,
		credentials:     credentials,
		refreshBalances: refreshBalances,
		notify:          notify,
		timeout:         timeout,
		logger:          util.NewLogger("order"),
		form:            Form{ControlsEnabled: true},
	}
}

func (c *Coordinator) SetAmount(amount string) {
	c.form.Amount = amount
	c.changed()
}

// Reset clears the form for a newly selected market. An in-flight order
// keeps the controls disabled until it completes; its outcome no longer
// touches the form unless it was placed on symbol.
func (c *Coordinator) Reset(symbol string) {
	c.selected = symbol
	c.form.Amount = ""
	c.form.Status = ""
	c.form.StatusIsError = false
	c.changed()
}

// Submit validates the request and, when it passes, sends the order on a
// worker. A validation failure is returned and shown; nothing else changes.
func (c *Coordinator) Submit(market *models.Market, side models.Side, lastPrice *float64) error {
	amount, err := c.validate(market, side, lastPrice)
	if err != nil {
		c.setStatus(fmt.Sprintf("Error (%s): %s", side, err), true)
		return err
	}

	c.selected = market.Symbol
	c.inFlight = true
	c.form.ControlsEnabled = false
	c.setStatus(fmt.Sprintf("Sending %s order...", side), false)

	m := *market
	var price float64
	if lastPrice != nil {
		price = *lastPrice
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		outcome := c.execute(ctx, m, side, amount, price)
		if !c.loop.Post(func() { c.complete(m, outcome) }) {
			c.logger.Debug("Order completion dropped, loop stopped", "symbol", m.Symbol)
		}
	}()
	return nil
}

func (c *Coordinator) validate(market *models.Market, side models.Side, lastPrice *float64) (float64, error) {
	if market == nil || market.Symbol == "" {
		return 0, ErrNoMarket
	}
	if !c.credentials().Present() {
		return 0, ErrNoCredentials
	}
	if c.inFlight {
		return 0, ErrInFlight
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(c.form.Amount), 64)
	if err != nil || amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidAmount
	}
	switch side {
	case models.SideBuy:
		if lastPrice == nil || *lastPrice <= 0 {
			return 0, ErrNoPrice
		}
	case models.SideSell:
	default:
		return 0, ErrUnknownSide
	}
	return amount, nil
}

// Size converts the user's base amount into the order argument: the adjusted
// base amount for sell, the rounded quote cost for buy.
func Size(gateway exchanges.Gateway, market models.Market, side models.Side, amount, lastPrice float64) (float64, error) {
	adjusted, err := gateway.RoundAmount(market.Symbol, amount)
	if err != nil {
		return 0, fmt.Errorf("round amount: %w", err)
	}
	if adjusted <= 0 {
		return 0, fmt.Errorf("%w: %w", ErrInvalidAmount, errRoundsToZero)
	}

	if side == models.SideSell {
		if market.MinAmount != nil && adjusted < *market.MinAmount {
			return 0, fmt.Errorf("%w: amount %s < min %v", ErrBelowMinimum,
				util.FormatFixed(adjusted, market.AmountPrecision), *market.MinAmount)
		}
		return adjusted, nil
	}

	cost, err := gateway.RoundCost(market.Symbol, adjusted*lastPrice)
	if err != nil {
		return 0, fmt.Errorf("round cost: %w", err)
	}
	if market.MinCost != nil && cost < *market.MinCost {
		return 0, fmt.Errorf("%w: cost %s < min %v", ErrBelowMinimum,
			util.FormatFixed(cost, market.CostPrecision), *market.MinCost)
	}
	return cost, nil
}

func (c *Coordinator) execute(ctx context.Context, market models.Market, side models.Side, amount, lastPrice float64) Outcome {
	outcome := Outcome{Symbol: market.Symbol, Side: side}
	size, err := Size(c.gateway, market, side, amount, lastPrice)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Submitted = size
	outcome.Result, outcome.Err = c.gateway.CreateMarketOrder(ctx, market.Symbol, side, size)
	return outcome
}

func (c *Coordinator) complete(market models.Market, outcome Outcome) {
	c.inFlight = false
	c.form.ControlsEnabled = true
	c.last = &outcome
	current := outcome.Symbol == c.selected

	if outcome.Err != nil {
		c.logger.Error(outcome.Err, common.ErrCodeOrderFailed, common.ErrMsgOrderFailed, "Order failed",
			"symbol", market.Symbol, "side", string(outcome.Side))
		if !current {
			c.changed()
			return
		}
		c.setStatus(fmt.Sprintf("Error (%s): %s: %s", outcome.Side, categoryOf(outcome.Err), outcome.Err), true)
		return
	}
	if outcome.Result == nil {
		if !current {
			c.changed()
			return
		}
		c.setStatus(fmt.Sprintf("Order (%s) returned no data.", outcome.Side), true)
		return
	}

	status := fmt.Sprintf("Order (%s) ID:%s.", outcome.Side, outcome.Result.ID)
	if outcome.Result.Filled > 0 {
		status += " Filled: " + util.FormatFixed(outcome.Result.Filled, market.AmountPrecision)
	}
	c.logger.Info("Order placed", "symbol", market.Symbol, "side", string(outcome.Side),
		"order_id", outcome.Result.ID, "submitted", outcome.Submitted)
	if current {
		c.form.Amount = ""
		c.setStatus(status, false)
	} else {
		c.changed()
	}
	if c.refreshBalances != nil {
		c.refreshBalances()
	}
}

func categoryOf(err error) string {
	switch {
	case errors.Is(err, ErrBelowMinimum):
		return "Below minimum"
	case errors.Is(err, ErrInvalidAmount):
		return "Invalid amount"
	}
	return exchanges.Category(err)
}

func (c *Coordinator) setStatus(text string, isError bool) {
	c.form.Status = text
	c.form.StatusIsError = isError
	c.changed()
}

func (c *Coordinator) changed() {
	if c.notify != nil {
		c.notify()
	}
}

func (c *Coordinator) Form() Form {
	return c.form
}

func (c *Coordinator) InFlight() bool {
	return c.inFlight
}

// LastOutcome returns the result of the most recent completed submission.
func (c *Coordinator) LastOutcome() *Outcome {
	return c.last
}
