package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"crypto-terminal/internal/common"
	"crypto-terminal/internal/util"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HTTPServer exposes the hub as JSON snapshots and a WebSocket push feed.
type HTTPServer struct {
	hub     *Hub
	version string
	engine  *gin.Engine
	server  *http.Server
	logger  *util.Logger
}

func NewHTTPServer(hub *Hub, version string) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	h := &HTTPServer{
		hub:     hub,
		version: version,
		engine:  gin.New(),
		logger:  util.NewLogger("feed-http"),
	}
	h.engine.Use(gin.Recovery())
	_ = h.engine.SetTrustedProxies(nil)

	h.engine.GET("/health", h.handleHealth)
	h.engine.GET("/state", h.handleState)
	h.engine.GET("/ws", h.handleWebSocket)

	h.server = &http.Server{Handler: h.engine, ReadHeaderTimeout: 5 * time.Second}
	return h
}

// Handler returns the router, mainly for tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.engine
}

func (h *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     h.version,
		"subscribers": h.hub.Listeners(),
	})
}

func (h *HTTPServer) handleState(c *gin.Context) {
	events := h.hub.Snapshot()
	if kind := c.Query("kind"); kind != "" {
		for _, ev := range events {
			if ev.Kind == kind {
				c.JSON(http.StatusOK, ev)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "no event of kind " + kind})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func splitKinds(raw string) []string {
	var kinds []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (h *HTTPServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", "err", err.Error())
		return
	}

	events, cancel := h.hub.Subscribe(splitKinds(c.Query("kinds"))...)
	go h.writePump(conn, events)
	go h.readPump(conn, cancel)
}

func (h *HTTPServer) writePump(conn *websocket.Conn, events <-chan Event) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Error(err, common.ErrCodeWebSocketWriteFailed, common.ErrMsgWebSocketWriteFailed,
					"WebSocket write failed", "kind", ev.Kind)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; the feed is push-only.
func (h *HTTPServer) readPump(conn *websocket.Conn, cancel func()) {
	defer func() {
		cancel()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket closed unexpectedly", "err", err.Error())
			}
			return
		}
	}
}

// Serve blocks until the listener fails or Shutdown is called.
func (h *HTTPServer) Serve(lis net.Listener) error {
	h.logger.Info("Starting HTTP feed", "address", lis.Addr().String())
	if err := h.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}
