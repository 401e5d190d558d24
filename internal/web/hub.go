// Package web bridges the event broadcaster to dashboard WebSocket clients.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"web3-gateway-go/internal/events"
	"web3-gateway-go/internal/metrics"

	"github.com/gorilla/websocket"
)

// WSEvent 定义发送到前端的消息结构
type WSEvent struct {
	Type string    `json:"type"`
	Coin string    `json:"coin,omitempty"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	clientBuffer   = 256
)

// EventSource hands out broadcaster subscriptions.
type EventSource interface {
	Subscribe() *events.Subscription
}

// Client 代表一个连接的前端用户
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub 负责维护活跃连接并把广播器事件转发给它们
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	allowed    []string

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewHub builds a hub. Browser origins other than localhost must be listed in
// allowedOrigins (host names, matched exactly).
func NewHub(logger *slog.Logger, allowedOrigins ...string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		allowed:    allowedOrigins,
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin 限制跨域请求，防止 WebSocket Hijacking
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // 允许非浏览器请求
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, a := range h.allowed {
		if strings.EqualFold(host, a) {
			return true
		}
	}
	h.logger.Warn("ws_origin_blocked", slog.String("origin", origin))
	return false
}

// StreamGap is sent to clients when the hub fell behind the broadcaster and
// events were lost before it resubscribed.
const StreamGap = "stream_gap"

// Run forwards events from source to every connected client until ctx ends
// or the source shuts down. A hub runs once.
func (h *Hub) Run(ctx context.Context, source EventSource) {
	sub := source.Subscribe()
	defer func() { sub.Close() }()

	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	h.logger.Info("websocket_hub_started")
	defer func() {
		// 优雅关闭：关闭所有客户端连接
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		h.mu.Lock()
		h.running = false
		close(h.done)
		h.mu.Unlock()
		h.logger.Info("websocket_hub_stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Info("ws_client_connected", slog.Int("total_clients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("ws_client_disconnected", slog.Int("total_clients", len(h.clients)))
			}

		case ev, ok := <-sub.Events():
			if ok {
				h.broadcast(ev)
				continue
			}
			if !sub.Dropped() {
				h.logger.Warn("ws_hub_subscription_closed")
				return
			}
			// 缓冲区溢出被广播器断开：重新订阅并通知客户端有事件丢失
			sub = source.Subscribe()
			metrics.Get().HubResubscribes.Inc()
			h.logger.Warn("ws_hub_resubscribed", slog.Int("total_clients", len(h.clients)))
			h.broadcast(events.Event{Type: StreamGap, Time: time.Now()})
		}
	}
}

func (h *Hub) broadcast(ev events.Event) {
	if len(h.clients) == 0 {
		return
	}
	message, err := json.Marshal(WSEvent{Type: string(ev.Type), Coin: ev.Coin, Time: ev.Time, Data: ev.Data})
	if err != nil {
		h.logger.Error("ws_json_marshal_error", slog.String("error", err.Error()))
		return
	}
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("ws_client_blocked_dropping_client")
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// HandleWS 处理 WebSocket 请求
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if !running {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	// 启动写泵（发送消息给前端）
	go client.writePump()
	// 启动读泵（处理心跳）
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// 客户端消息只用于保活，内容忽略
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("ws_write_error", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
