package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"crypto-terminal/internal/common"
	"crypto-terminal/internal/util"
)

// Event kinds published by the terminal.
const (
	KindScreen   = "screen"
	KindCoinList = "coinlist"
	KindTrade    = "trade"
	KindOrder    = "order"
	KindSession  = "session"
)

// Event is a view-model change. Data holds only JSON-compatible values
// (string, bool, float64, int, nil, []interface{}, map[string]interface{}).
type Event struct {
	Kind   string                 `json:"kind"`
	Symbol string                 `json:"symbol,omitempty"`
	Time   time.Time              `json:"time"`
	Data   map[string]interface{} `json:"data"`
}

type listenerEntry struct {
	kinds map[string]bool
	ch    chan Event
}

func (l *listenerEntry) wants(kind string) bool {
	return len(l.kinds) == 0 || l.kinds[kind]
}

// Hub fans events out to subscribers. Publish never blocks: a full queue or
// a slow subscriber loses the event.
type Hub struct {
	events chan Event
	logger *util.Logger

	mu        sync.Mutex
	listeners map[uint64]*listenerEntry
	nextID    uint64
	last      map[string]Event
}

func NewHub(size int) *Hub {
	if size <= 0 {
		size = common.FeedChannelSize
	}
	return &Hub{
		events:    make(chan Event, size),
		logger:    util.NewLogger("feed"),
		listeners: make(map[uint64]*listenerEntry),
		last:      make(map[string]Event),
	}
}

// Publish queues ev for delivery.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case h.events <- ev:
	default:
		h.logger.Warn(common.ErrCodeChannelFull, common.ErrMsgChannelFull, "Dropped event due to full hub queue", "kind", ev.Kind)
	}
}

// Run delivers queued events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.events:
			h.emit(ev)
		}
	}
}

func (h *Hub) emit(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last[ev.Kind] = ev
	for id, listener := range h.listeners {
		if !listener.wants(ev.Kind) {
			continue
		}
		select {
		case listener.ch <- ev:
		default:
			h.logger.Warn(common.ErrCodeChannelFull, common.ErrMsgChannelFull,
				"Dropped event due to full subscriber channel", "kind", ev.Kind, "listener", id)
		}
	}
}

// Subscribe registers a listener for the given kinds, or all kinds when none
// are given. The returned function unregisters it and closes the channel.
func (h *Hub) Subscribe(kinds ...string) (<-chan Event, func()) {
	entry := &listenerEntry{ch: make(chan Event, common.FeedChannelSize)}
	if len(kinds) > 0 {
		entry.kinds = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			entry.kinds[k] = true
		}
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.listeners[id] = entry
	h.mu.Unlock()

	var once sync.Once
	return entry.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
			close(entry.ch)
		})
	}
}

// Snapshot returns the latest event of every kind, ordered by kind.
func (h *Hub) Snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.last))
	for _, ev := range h.last {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Listeners returns the number of registered subscribers.
func (h *Hub) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
