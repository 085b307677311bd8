package remote

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"prism-server/work/logger"
	"prism-server/work/metrics"
	"prism-server/work/playback"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
)

// Message is the wire envelope for the remote-control protocol. Commands
// from remote clients and directives to player clients share one shape.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Remote command and player directive types.
const (
	TypeWelcome   = "WELCOME"
	TypePlay      = "PLAY"
	TypePause     = "PAUSE"
	TypeVolume    = "VOLUME"
	TypeMute      = "MUTE"
	TypeSeek      = "SEEK"
	TypeSeekTo    = "SEEK_TO"
	TypeChannel   = "CHANNEL"
	TypeLoad      = "LOAD"
	TypeDetach    = "DETACH"
	TypeTelemetry = "TELEMETRY"
	TypeError     = "ERROR"
)

// clientConn is one connected socket. Writes are serialized per connection
// since gorilla conns allow only one concurrent writer.
type clientConn struct {
	id   uint64
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *clientConn) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub relays remote-control traffic between every connected client: phones
// acting as remotes, and the player surface itself. Every inbound message is
// applied to the playback session and rebroadcast to the other clients so
// all remotes stay in sync.
type Hub struct {
	upgrader websocket.Upgrader
	clients  *xsync.MapOf[uint64, *clientConn]
	nextID   atomic.Uint64
	session  *PlayerSession
}

// NewHub builds a hub with no session attached yet.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Remotes connect from phones on the LAN; origin is not a
			// useful trust boundary here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: xsync.NewMapOf[uint64, *clientConn](),
	}
}

// AttachSession binds the playback session commands get applied to.
func (h *Hub) AttachSession(session *PlayerSession) {
	h.session = session
}

// ServeWS upgrades the request and runs the client's read loop.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("{remote - ServeWS} Upgrade failed: %v", err)
		return
	}

	client := &clientConn{
		id:   h.nextID.Add(1),
		conn: conn,
	}
	h.clients.Store(client.id, client)
	metrics.RelayClients.Inc()
	logger.Info("{remote - ServeWS} Client %d connected (%d total)", client.id, h.clients.Size())

	welcome, _ := json.Marshal(Message{
		Type:    TypeWelcome,
		Payload: json.RawMessage(`"Connected to Prism Remote Server"`),
	})
	client.send(welcome)

	defer func() {
		h.clients.Delete(client.id)
		metrics.RelayClients.Dec()
		conn.Close()
		logger.Info("{remote - ServeWS} Client %d disconnected", client.id)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Debug("{remote - ServeWS} Ignoring malformed message from client %d: %v", client.id, err)
			continue
		}

		h.dispatch(&msg)
		h.broadcastExcept(client.id, raw)
	}
}

// dispatch applies a remote command to the playback session.
func (h *Hub) dispatch(msg *Message) {
	session := h.session
	if session == nil {
		return
	}
	controller := session.Controller()

	switch msg.Type {
	case TypePlay:
		controller.SetPlaying(true)

	case TypePause:
		controller.SetPlaying(false)

	case TypeVolume:
		var volume float64
		if err := json.Unmarshal(msg.Payload, &volume); err == nil {
			controller.SetVolume(volume)
		}

	case TypeMute:
		controller.ToggleMuted()

	case TypeSeek:
		var delta float64
		if err := json.Unmarshal(msg.Payload, &delta); err == nil {
			controller.SeekRelative(delta)
		}

	case TypeChannel:
		var url string
		if err := json.Unmarshal(msg.Payload, &url); err == nil {
			controller.LoadSource(url, true)
		}

	case TypeTelemetry:
		var telemetry playback.Telemetry
		if err := json.Unmarshal(msg.Payload, &telemetry); err == nil {
			session.applyTelemetry(telemetry)
		}

	case TypeError:
		var report faultReport
		if err := json.Unmarshal(msg.Payload, &report); err == nil {
			session.applyFault(report)
		}
	}
}

// Broadcast sends a directive to every connected client.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.broadcastExcept(0, data)
}

func (h *Hub) broadcastExcept(senderID uint64, data []byte) {
	h.clients.Range(func(id uint64, client *clientConn) bool {
		if id == senderID {
			return true
		}
		if err := client.send(data); err != nil {
			logger.Debug("{remote - broadcast} Dropping client %d: %v", id, err)
			h.clients.Delete(id)
			metrics.RelayClients.Dec()
			client.conn.Close()
		}
		return true
	})
}
