package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Series WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - A broadcaster loop that reads reducer-emitted broadcasts and fans out
//
// Design constraints:
//   - DaemonState remains daemon-owned; never expose *DaemonState to other goroutines.
//   - The initial snapshot on connect goes through the daemon loop (RequestSnapshot).
//   - Slow clients are disconnected when their send buffer fills.
//
// Wire format: JSON text frames with an envelope {type, ts, data}.
//   - series_init / series_reset: full visible series (wsSeriesData)
//   - series_append: points published since the previous message (wsAppendData)
//   - view_state: capture/view/config state (ViewState)
//
// Clients may send control envelopes (EventEnvelope, same types as IPC).
//
// ============================================================================

// wsSeriesData is the JSON `data` payload for "series_init" and "series_reset".
type wsSeriesData struct {
	Reason   string        `json:"reason,omitempty"`
	View     ViewState     `json:"view"`
	Rate     int           `json:"rate"`
	Raw      []pointRecord `json:"raw"`
	Smoothed []pointRecord `json:"smoothed"`

	StagedRaw      int    `json:"staged_raw"`
	StagedSmoothed int    `json:"staged_smoothed"`
	Pushed         uint64 `json:"pushed"`
	OutOfOrder     uint64 `json:"out_of_order"`
	Evicted        uint64 `json:"evicted"`
}

// wsAppendData is the JSON `data` payload for "series_append".
type wsAppendData struct {
	Rate     int           `json:"rate"`
	Raw      []pointRecord `json:"raw"`
	Smoothed []pointRecord `json:"smoothed"`
}

// wsErrorData is sent back to a client whose control message was rejected.
type wsErrorData struct {
	Error string `json:"error"`
}

func seriesPayload(snap SeriesSnapshot, reason string) wsSeriesData {
	return wsSeriesData{
		Reason:         reason,
		View:           snap.View,
		Rate:           snap.Log.Rate,
		Raw:            toRecords(snap.Log.Raw),
		Smoothed:       toRecords(snap.Log.Smoothed),
		StagedRaw:      snap.Log.StagedRaw,
		StagedSmoothed: snap.Log.StagedSmoothed,
		Pushed:         snap.Log.Pushed,
		OutOfOrder:     snap.Log.OutOfOrder,
		Evicted:        snap.Log.Evicted,
	}
}

// wsOutboundEvent is a pre-typed, externally-consumable event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means use now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(ev wsOutboundEvent) ([]byte, error) {
	ts := ev.At.UTC()
	if ev.At.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (default 64).
	SendBuf int
	// BroadcastBuf is the hub inbound broadcast queue size (default 256).
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 64
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 256
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		safeCloseChan(c.send)

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// trySend queues msg without blocking. Goroutines other than the hub may race
// removeClient closing ch; that counts as a failed send.
func trySend(ch chan []byte, msg []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
		return false
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	// control receives decoded control envelopes from this client (may be nil).
	control chan<- Event

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, control chan<- Event, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 64
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		control:    control,
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait = 5 * time.Second

	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	// maxControlMessage bounds inbound client frames; push_samples batches fit easily.
	maxControlMessage = 1 << 20
)

// wsViewCoalesceWindow is the maximum time window during which bursty view_state
// updates are coalesced (latest-wins) before broadcasting to clients.
const wsViewCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping error", err)
				return
			}
		}
	}
}

func (c *Client) logExit(pump, what string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting ("+what+")", "remote_addr", c.remoteAddr, "error", err)
}

// readPump reads control envelopes from the client and forwards them.
// It exits on read error, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxControlMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logExit("readPump", "read error", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
		c.handleControl(data)
	}
}

// handleControl decodes one client frame and forwards the event. Rejections are
// reported back to this client only.
func (c *Client) handleControl(data []byte) {
	ev, err := UnmarshalEvent(data)
	if err == nil && c.control == nil {
		err = errors.New("control messages not accepted")
	}
	if err == nil {
		select {
		case c.control <- ev:
			return
		default:
			err = errors.New("event queue full")
		}
	}

	c.logger.Debug("ws control rejected", "remote_addr", c.remoteAddr, "error", err)
	msg, mErr := marshalEnvelope(wsOutboundEvent{Type: "error", Data: wsErrorData{Error: err.Error()}})
	if mErr != nil {
		return
	}
	trySend(c.send, msg)
}

// ============================================================================
// HTTP Handler
// ============================================================================

type Server struct {
	logger *slog.Logger

	hub *Hub

	// events is used for the initial snapshot request on connect.
	events chan<- Event
	// control receives client control messages (usually the debouncer input).
	control chan<- Event
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the WS components. Call Register on a mux,
// start hub.Run(ctx), and start the broadcaster loop.
func NewServer(logger *slog.Logger, events, control chan<- Event, cfg ServerConfig) *Server {
	return &Server{
		logger:  logger,
		hub:     NewHub(logger, cfg.Hub),
		events:  events,
		control: control,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleSeriesWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSeriesWS upgrades and registers a client, then sends series_init.
func (s *Server) handleSeriesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, s.control, r.RemoteAddr, s.logger)

	// Register client first so broadcasts can reach it. An append that races the
	// init snapshot may duplicate points client-side; clients key points by t.
	s.hub.register <- client

	// Pumps are not tied to r.Context(): net/http cancels it when the handler
	// returns, which would close the connection (code 1006).
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	if s.events == nil {
		return
	}

	snap, err := requestSnapshot(r.Context(), s.events, time.Second)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	initMsg, err := marshalEnvelope(wsOutboundEvent{
		Type: "series_init",
		Data: seriesPayload(snap, ""),
		At:   snap.At,
	})
	if err != nil {
		s.logger.Warn("ws series_init marshal failed", "error", err)
		return
	}
	// If the client is already slow, disconnect.
	if !trySend(client.send, initMsg) {
		s.hub.unregister <- client
	}
}

// requestSnapshot round-trips a RequestSnapshot through the daemon loop.
func requestSnapshot(ctx context.Context, events chan<- Event, timeout time.Duration) (SeriesSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply := make(chan SeriesSnapshot, 1)
	select {
	case <-ctx.Done():
		return SeriesSnapshot{}, ctx.Err()
	case events <- RequestSnapshot{Reply: reply}:
	}

	select {
	case <-ctx.Done():
		return SeriesSnapshot{}, ctx.Err()
	case snap := <-reply:
		return snap, nil
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads reducer-emitted broadcasts, marshals them, and broadcasts
// them to all hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// view_state is rate-limited latest-wins: flush the pending one at most once
	// per wsViewCoalesceWindow. Series messages are never coalesced; each carries
	// points the client does not have yet.
	var pendingView *wsOutboundEvent
	var viewTimer *time.Timer
	var viewTimerCh <-chan time.Time

	send := func(ev wsOutboundEvent) {
		msg, err := marshalEnvelope(ev)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPendingView := func() {
		if pendingView == nil {
			return
		}
		send(*pendingView)
		pendingView = nil
	}

	stopViewTimer := func() {
		if viewTimer != nil {
			viewTimer.Stop()
		}
		viewTimer = nil
		viewTimerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPendingView()
			stopViewTimer()
			return

		case <-viewTimerCh:
			stopViewTimer()
			flushPendingView()

		case b, ok := <-src:
			if !ok {
				flushPendingView()
				stopViewTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			if ev.Type == "view_state" {
				copyEv := ev
				pendingView = &copyEv
				if viewTimer == nil {
					viewTimer = time.NewTimer(wsViewCoalesceWindow)
					viewTimerCh = viewTimer.C
				}
				continue
			}

			send(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastSeriesAppended:
		return wsOutboundEvent{
			Type: "series_append",
			Data: wsAppendData{
				Rate:     ev.Rate,
				Raw:      toRecords(ev.Raw),
				Smoothed: toRecords(ev.Smoothed),
			},
			At: ev.At,
		}, true

	case BroadcastSeriesReset:
		return wsOutboundEvent{
			Type: "series_reset",
			Data: seriesPayload(ev.Snapshot, ev.Reason),
			At:   ev.Snapshot.At,
		}, true

	case BroadcastViewState:
		return wsOutboundEvent{
			Type: "view_state",
			Data: ev.View,
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
