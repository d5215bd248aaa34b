// Package broadcast is the connected-client registry and typed event
// fan-out for browser clients (C9, spec §4.9). It is grounded on the
// teacher's websocket hub pattern (mutex-guarded client map, buffered
// per-client send channel, snapshot-and-iterate broadcast, read/write
// pump goroutines) rather than anything in the VMS teacher, which has no
// equivalent fabric — only a placeholder WS handler. Hub also implements
// timesync.ClientDirectory so C8 can drive time-sync requests without a
// second registry.
package broadcast

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/papamarky/pi-camera-control/internal/clockwork"
	"github.com/papamarky/pi-camera-control/internal/timesync"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected WebSocket. The write pump is the only goroutine
// that ever calls conn.WriteMessage, so every outbound frame goes through
// send.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	address string
	iface   timesync.ClientInterface
}

func (c *Client) ID() string { return c.id }

// InboundHandler receives a parsed client->server message. raw still holds
// the full JSON object so the handler can unmarshal type-specific fields.
type InboundHandler func(c *Client, msgType string, raw json.RawMessage)

// ConnectHandler and DisconnectHandler notify C8 of a browser client's
// lifecycle so the time-sync connection rules (spec §4.8: "ap outranks
// wlan") can run without Hub importing internal/timesync's Service.
type ConnectHandler func(iface timesync.ClientInterface, address string)
type DisconnectHandler func(address string)

// InterfaceClassifier maps a remote address to the network path it arrived
// on. The host's ap/wlan subnet boundaries are OS-level configuration
// (out of scope, spec §1); the composition root supplies the real
// implementation.
type InterfaceClassifier func(remoteAddr string) timesync.ClientInterface

// StatusSnapshot is the payload of welcome/status_update messages (spec
// §4.9). Each field is built by the composition root from the matching
// subsystem and passed through opaquely; Hub never imports C2/C3/C5/C7.
type StatusSnapshot struct {
	Camera         any `json:"camera"`
	System         any `json:"system"`
	Storage        any `json:"storage,omitempty"`
	Network        any `json:"network"`
	Intervalometer any `json:"intervalometer"`
	TimeSync       any `json:"timesync"`
}

// StatusProvider assembles the current cross-subsystem snapshot.
type StatusProvider func() StatusSnapshot

const statusInterval = 10 * time.Second

// Hub is the broadcast fabric.
type Hub struct {
	clock      clockwork.Clock
	status     StatusProvider
	classifier InterfaceClassifier

	mu      sync.RWMutex
	clients map[*Client]struct{}

	onInboundMu sync.RWMutex
	onInbound   InboundHandler

	onConnect    ConnectHandler
	onDisconnect DisconnectHandler

	statusTimer clockwork.CancelHandle
}

func NewHub(clock clockwork.Clock, status StatusProvider, classifier InterfaceClassifier) *Hub {
	if clock == nil {
		clock = clockwork.System
	}
	return &Hub{
		clock:      clock,
		status:     status,
		classifier: classifier,
		clients:    make(map[*Client]struct{}),
	}
}

// SetInboundHandler wires C10's message dispatcher. Must be called before
// StartStatusLoop/ServeWS see traffic.
func (h *Hub) SetInboundHandler(fn InboundHandler) {
	h.onInboundMu.Lock()
	defer h.onInboundMu.Unlock()
	h.onInbound = fn
}

func (h *Hub) inboundHandler() InboundHandler {
	h.onInboundMu.RLock()
	defer h.onInboundMu.RUnlock()
	return h.onInbound
}

// SetConnectHandler wires C8's OnClientConnected to every new WebSocket
// connection.
func (h *Hub) SetConnectHandler(fn ConnectHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = fn
}

// SetDisconnectHandler wires client-disconnect notification, for anything
// that needs to know a client address is no longer reachable.
func (h *Hub) SetDisconnectHandler(fn DisconnectHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = fn
}

// StartStatusLoop arms the 10s periodic status_update timer (spec §4.9).
func (h *Hub) StartStatusLoop() {
	h.mu.Lock()
	if h.statusTimer != nil {
		h.mu.Unlock()
		return
	}
	h.statusTimer = h.clock.Every(statusInterval, h.BroadcastStatus)
	h.mu.Unlock()
}

func (h *Hub) StopStatusLoop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.statusTimer != nil {
		h.statusTimer.Cancel()
		h.statusTimer = nil
	}
}

// ServeWS upgrades the request and registers a new client. It blocks for
// the lifetime of the connection (read pump); call it from an HTTP
// handler goroutine.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[broadcast] upgrade failed: %v", err)
		return
	}

	addr := r.RemoteAddr
	iface := timesync.InterfaceWLAN
	if h.classifier != nil {
		iface = h.classifier(addr)
	}

	c := &Client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, 8),
		address: addr,
		iface:   iface,
	}
	h.register(c)
	log.Printf("[broadcast] client connected id=%s addr=%s iface=%s", c.id, addr, iface)

	h.sendWelcome(c)

	h.mu.RLock()
	onConnect := h.onConnect
	h.mu.RUnlock()
	if onConnect != nil {
		onConnect(iface, addr)
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
}

func (h *Hub) writePump(c *Client) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("[broadcast] write error id=%s: %v", c.id, err)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister(c)
		log.Printf("[broadcast] client disconnected id=%s addr=%s", c.id, c.address)
		h.mu.RLock()
		onDisconnect := h.onDisconnect
		h.mu.RUnlock()
		if onDisconnect != nil {
			onDisconnect(c.address)
		}
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		if handler := h.inboundHandler(); handler != nil {
			handler(c, envelope.Type, json.RawMessage(data))
		}
	}
}

func (h *Hub) sendWelcome(c *Client) {
	payload := map[string]any{
		"type":      "welcome",
		"timestamp": h.clock.Now(),
		"clientId":  c.id,
	}
	if h.status != nil {
		snap := h.status()
		payload["camera"] = snap.Camera
		payload["system"] = snap.System
		payload["storage"] = snap.Storage
		payload["network"] = snap.Network
		payload["intervalometer"] = snap.Intervalometer
		payload["timesync"] = snap.TimeSync
	}
	h.sendTo(c, payload)
}

// Broadcast fans a message out to every connected client, best-effort,
// dropping frames for clients whose send buffer is full rather than
// blocking the broadcaster (spec §4.9 "fan-out, best-effort").
func (h *Hub) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[broadcast] marshal error: %v", err)
		return
	}
	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		select {
		case c.send <- data:
		default:
			log.Printf("[broadcast] dropping frame for slow client id=%s", c.id)
		}
	}
}

// BroadcastStatus assembles and fans out a status_update snapshot (spec
// §4.9). Called by the 10s timer and by the composition root on demand
// after any state change worth propagating immediately.
func (h *Hub) BroadcastStatus() {
	if h.status == nil {
		return
	}
	snap := h.status()
	h.Broadcast(map[string]any{
		"type":           "status_update",
		"timestamp":      h.clock.Now(),
		"camera":         snap.Camera,
		"system":         snap.System,
		"storage":        snap.Storage,
		"network":        snap.Network,
		"intervalometer": snap.Intervalometer,
		"timesync":       snap.TimeSync,
	})
}

// SendTo delivers payload only to c, for handlers that must reply to the
// specific client that sent a request rather than broadcasting.
func (h *Hub) SendTo(c *Client, payload any) {
	h.sendTo(c, payload)
}

func (h *Hub) sendTo(c *Client, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[broadcast] marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[broadcast] dropping frame for slow client id=%s", c.id)
	}
}

// ClientCount returns the number of connected clients, for status
// snapshots (spec §4.9 "connected-client counts").
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ClientsOn implements timesync.ClientDirectory.
func (h *Hub) ClientsOn(iface timesync.ClientInterface) []timesync.ClientHandle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []timesync.ClientHandle
	for c := range h.clients {
		if c.iface == iface {
			out = append(out, timesync.ClientHandle{Address: c.address, Interface: c.iface})
		}
	}
	return out
}

// IsConnected implements timesync.ClientDirectory.
func (h *Hub) IsConnected(address string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.address == address {
			return true
		}
	}
	return false
}

// RequestTime implements timesync.ClientDirectory by sending a
// time-sync-request message (spec §6) to the named client.
func (h *Hub) RequestTime(address string) error {
	h.mu.RLock()
	var target *Client
	for c := range h.clients {
		if c.address == address {
			target = c
			break
		}
	}
	h.mu.RUnlock()
	if target == nil {
		return nil // client already disconnected; resync cascade will pick a replacement
	}
	h.sendTo(target, map[string]any{
		"type":      "time-sync-request",
		"timestamp": h.clock.Now(),
		"requestId": uuid.NewString(),
	})
	return nil
}
