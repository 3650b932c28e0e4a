package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"crypto-terminal/internal/feed"
	"crypto-terminal/internal/scheduler"
	"crypto-terminal/internal/session"
	"crypto-terminal/internal/util"
)

// ErrQuit is returned by Execute when the user asked to leave.
var ErrQuit = errors.New("quit")

const helpText = `Commands:
  login [user password]            show the login form or log in
  register [user pass key secret]  show the register form or create an account
  keys <key> <secret>              replace the exchange API keys
  search [text]                    filter the market list
  sort asc|desc                    sort the market list by name
  open <symbol>                    open the trade screen, e.g. open BTC/USDT
  back                             leave the current screen
  buy <amount> | sell <amount>     market order, amount in base units
  refresh                          refresh the current screen now
  status                           show the current screen
  quit                             exit
`

// Console is a line-oriented front end. Commands run on the loop; the
// rendering reads a consistent snapshot of the view models.
type Console struct {
	loop       *scheduler.Loop
	controller *session.Controller
	logger     *util.Logger

	mu  sync.Mutex
	out io.Writer
}

func NewConsole(loop *scheduler.Loop, controller *session.Controller, out io.Writer) *Console {
	return &Console{loop: loop, controller: controller, out: out, logger: util.NewLogger("console")}
}

// Run reads commands from in until quit, end of input or ctx cancellation.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.Render()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.Execute(line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				c.printf("! %s\n", err)
			}
		}
	}
}

// Execute runs one command line and renders the resulting screen.
func (c *Console) Execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	c.logger.Debug("Console command", "cmd", cmd, "args", len(args))

	switch cmd {
	case "quit", "exit":
		return ErrQuit
	case "help", "?":
		c.printf("%s", helpText)
		return nil
	case "status":
		c.Render()
		return nil
	}

	var err error
	if !c.loop.Call(func() { err = c.apply(cmd, args) }) {
		return errors.New("terminal is shutting down")
	}
	if err != nil {
		return err
	}
	c.Render()
	return nil
}

func (c *Console) apply(cmd string, args []string) error {
	ctl := c.controller
	switch cmd {
	case "login":
		if len(args) == 0 {
			ctl.ShowLogin()
			return nil
		}
		if len(args) != 2 {
			return errors.New("usage: login <user> <password>")
		}
		return ctl.Login(args[0], args[1])
	case "register":
		if len(args) == 0 {
			ctl.ShowRegister()
			return nil
		}
		if len(args) != 4 {
			return errors.New("usage: register <user> <password> <key> <secret>")
		}
		return ctl.Register(args[0], args[1], args[2], args[3])
	case "keys":
		if len(args) != 2 {
			return errors.New("usage: keys <key> <secret>")
		}
		return ctl.UpdateCredentials(args[0], args[1])
	case "search":
		return ctl.Search(strings.Join(args, " "))
	case "sort":
		if len(args) != 1 {
			return errors.New("usage: sort asc|desc")
		}
		switch strings.ToLower(args[0]) {
		case "asc", "a-z":
			return ctl.Sort(scheduler.SortNameAsc)
		case "desc", "z-a":
			return ctl.Sort(scheduler.SortNameDesc)
		}
		return errors.New("usage: sort asc|desc")
	case "open":
		if len(args) != 1 {
			return errors.New("usage: open <symbol>")
		}
		return ctl.OpenTrade(args[0])
	case "back":
		return ctl.Back()
	case "buy", "sell":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <amount>", cmd)
		}
		if cmd == "buy" {
			return ctl.Buy(args[0])
		}
		return ctl.Sell(args[0])
	case "refresh":
		return ctl.Refresh()
	}
	return fmt.Errorf("unknown command %q, type help", cmd)
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Render prints the active screen.
func (c *Console) Render() {
	var text string
	c.loop.Call(func() { text = c.screenText() })
	c.printf("%s", text)
}

func (c *Console) screenText() string {
	var b strings.Builder
	ctl := c.controller
	switch ctl.Screen() {
	case session.ScreenLogin, session.ScreenRegister:
		title := "Login"
		if ctl.Screen() == session.ScreenRegister {
			title = "Register"
		}
		fmt.Fprintf(&b, "== %s ==\n", title)
		writeStatus(&b, ctl.Auth().Status, ctl.Auth().StatusIsError)
	case session.ScreenCoinList:
		writeCoinList(&b, ctl.UserLogin(), ctl.CoinList())
	case session.ScreenTrade:
		writeTrade(&b, ctl.Trade())
		form := ctl.OrderForm()
		if !form.ControlsEnabled {
			b.WriteString("Order controls: busy\n")
		}
		writeStatus(&b, form.Status, form.StatusIsError)
	}
	return b.String()
}

func writeStatus(b *strings.Builder, status string, isError bool) {
	if status == "" {
		return
	}
	if isError {
		fmt.Fprintf(b, "! %s\n", status)
		return
	}
	fmt.Fprintf(b, "> %s\n", status)
}

func writeCoinList(b *strings.Builder, login string, view scheduler.CoinListView) {
	fmt.Fprintf(b, "== Markets (%s) ==\n", login)
	if view.Search != "" {
		fmt.Fprintf(b, "Search: %s\n", view.Search)
	}
	if view.Loading {
		b.WriteString("Loading markets...\n")
	}
	tw := tabwriter.NewWriter(b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tPRICE")
	for _, row := range view.Rows {
		fmt.Fprintf(tw, "%s\t%s\n", row.Market.Symbol, row.PriceText)
	}
	tw.Flush()
	writeStatus(b, view.Status, view.StatusIsError)
}

func writeTrade(b *strings.Builder, view scheduler.TradeView) {
	fmt.Fprintf(b, "== %s ==\n", view.Market.Symbol)
	tw := tabwriter.NewWriter(b, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Price:\t%s\n", view.PriceText)
	fmt.Fprintf(tw, "Chart:\t%s (%d candles)\n", view.Chart, len(view.Candles))
	fmt.Fprintf(tw, "Prediction:\t%s\n", view.Prediction.Label)
	fmt.Fprintf(tw, "%s:\t%s\n", view.Market.BaseAsset, view.BaseBalance)
	fmt.Fprintf(tw, "%s:\t%s\n", view.Market.QuoteAsset, view.QuoteBalance)
	tw.Flush()
	writeStatus(b, view.Status, view.StatusIsError)
}

// Follow prints asynchronous outcomes that arrive between commands: auth
// results and order completions.
func (c *Console) Follow(ctx context.Context, events <-chan feed.Event) {
	last := make(map[string]string)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			status, _ := ev.Data["status"].(string)
			if status == "" || last[ev.Kind] == status {
				continue
			}
			last[ev.Kind] = status
			if busy, _ := ev.Data["busy"].(bool); busy {
				continue
			}
			if inFlight, _ := ev.Data["in_flight"].(bool); inFlight {
				continue
			}
			isError, _ := ev.Data["status_is_error"].(bool)
			prefix := ">"
			if isError {
				prefix = "!"
			}
			c.printf("%s [%s] %s\n", prefix, ev.Kind, status)
		}
	}
}
