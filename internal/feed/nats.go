package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"crypto-terminal/internal/common"
	"crypto-terminal/internal/util"
)

type NATSOptions struct {
	Servers       []string
	SubjectPrefix string
	ClientName    string
	ReconnectWait time.Duration
	MaxReconnects int
}

// NATSPublisher mirrors hub events onto NATS core subjects. Delivery is
// fire-and-forget.
type NATSPublisher struct {
	options NATSOptions
	logger  *util.Logger

	mu        sync.RWMutex
	nc        *nats.Conn
	connected bool
}

func NewNATSPublisher(options NATSOptions) *NATSPublisher {
	if options.ClientName == "" {
		options.ClientName = "crypto-terminal"
	}
	if options.ReconnectWait <= 0 {
		options.ReconnectWait = 2 * time.Second
	}
	if options.MaxReconnects == 0 {
		options.MaxReconnects = -1
	}
	return &NATSPublisher{options: options, logger: util.NewLogger("feed-nats")}
}

// Subject maps an event onto "<prefix>.<kind>[.<symbol>]". The symbol uses
// its exchange id since '/' does not belong in a subject token.
func Subject(prefix string, ev Event) string {
	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, ev.Kind)
	if ev.Symbol != "" {
		parts = append(parts, util.SymbolToMEXC(ev.Symbol))
	}
	return strings.Join(parts, ".")
}

func (np *NATSPublisher) Connect() error {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.nc != nil && np.nc.IsConnected() {
		return nil
	}
	if len(np.options.Servers) == 0 {
		return fmt.Errorf("no nats servers configured")
	}

	opts := []nats.Option{
		nats.Name(np.options.ClientName),
		nats.ReconnectWait(np.options.ReconnectWait),
		nats.MaxReconnects(np.options.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.ClosedHandler(func(nc *nats.Conn) {
			np.logger.Info("NATS connection closed")
			np.setConnected(false)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			np.logger.Warn(common.ErrCodeNATSConnectFailed, common.ErrMsgNATSConnectFailed,
				"NATS disconnected, attempting reconnect", "err", fmt.Sprint(err))
			np.setConnected(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			np.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			np.setConnected(true)
		}),
	}

	nc, err := nats.Connect(strings.Join(np.options.Servers, ","), opts...)
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}
	np.nc = nc
	np.connected = nc.IsConnected()
	np.logger.Info("NATS publisher ready", "servers", np.options.Servers)
	return nil
}

// Publish sends ev as JSON on its subject.
func (np *NATSPublisher) Publish(ev Event) error {
	np.mu.RLock()
	nc := np.nc
	np.mu.RUnlock()
	if nc == nil {
		return fmt.Errorf("nats publisher not connected")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return nc.Publish(Subject(np.options.SubjectPrefix, ev), data)
}

// Run forwards every hub event until ctx is cancelled.
func (np *NATSPublisher) Run(ctx context.Context, hub *Hub) {
	events, cancel := hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := np.Publish(ev); err != nil {
				np.logger.Error(err, common.ErrCodeNATSPublishFailed, common.ErrMsgNATSPublishFailed,
					"NATS publish failed", "kind", ev.Kind)
			}
		}
	}
}

func (np *NATSPublisher) Close() {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.nc == nil || np.nc.IsClosed() {
		return
	}
	if err := np.nc.Drain(); err != nil {
		np.nc.Close()
	}
	np.connected = false
}

func (np *NATSPublisher) IsConnected() bool {
	np.mu.RLock()
	defer np.mu.RUnlock()
	return np.connected
}

func (np *NATSPublisher) setConnected(status bool) {
	np.mu.Lock()
	np.connected = status
	np.mu.Unlock()
}
