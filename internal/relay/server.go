// Package relay implements the signaling relay server: it accepts WebSocket
// connections, admits them into rooms, and fans signaling messages out to the
// other room members. It never interprets SDP or candidate payloads and never
// sees data-channel traffic.
package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akindo/peerlink/internal/ice"
	"github.com/akindo/peerlink/internal/ratelimit"
	"github.com/akindo/peerlink/internal/room"
	"github.com/akindo/peerlink/internal/signal"
	"github.com/akindo/peerlink/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns one room registry and one credential cache and routes every
// inbound signaling message. State is instance-scoped so independent servers
// can coexist in one process (tests rely on this).
type Server struct {
	registry *room.Registry
	creds    *ice.Cache
	clock    ratelimit.Clock
}

// NewServer wires a relay server around the given credential cache. A nil
// clock uses the wall clock; tests inject a fake one to drive the per
// connection rate windows.
func NewServer(creds *ice.Cache, clock ratelimit.Clock) *Server {
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Server{
		registry: room.NewRegistry(),
		creds:    creds,
		clock:    clock,
	}
}

// Registry exposes the room registry for observation in tests.
func (s *Server) Registry() *room.Registry {
	return s.registry
}

// Handler returns the HTTP handler serving /ws (signaling) and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("ws upgrade failed: %v", err)
		return
	}

	c := newConn(ws, s.clock)
	go c.writePump()
	s.readPump(c)
}

// readPump reads messages from one connection until it closes, applying the
// admission pipeline in order: rate limit, parse, dispatch. On exit the
// connection leaves its room (which notifies the remaining members).
func (s *Server) readPump(c *conn) {
	defer func() {
		s.registry.Leave(c)
		c.close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("ws read: %v", err)
			}
			return
		}

		if !c.limiter.Allow() {
			// Soft throttle: excess messages vanish, the connection stays.
			continue
		}

		var msg signal.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			util.LogDebug("dropping malformed message: %v", err)
			continue
		}

		s.dispatch(c, &msg)
	}
}

func (s *Server) dispatch(c *conn, msg *signal.Message) {
	switch {
	case msg.Type == signal.MsgTypeJoinRoom:
		s.handleJoin(c, msg)

	case msg.Type.Relayed():
		if !s.registry.Relay(c, msg) {
			util.LogDebug("dropping %s from roomless connection", msg.Type)
		}

	default:
		util.LogDebug("dropping message with unknown type %q", msg.Type)
	}
}

func (s *Server) handleJoin(c *conn, msg *signal.Message) {
	// The reply is enqueued under the registry lock, before the PEER_JOINED
	// fan-out: a notified peer's OFFER must never reach the joiner's queue
	// ahead of its ASSIGNED_PEER_ID.
	peerID, err := s.registry.Join(c, msg.RoomID, func(peerID string) {
		c.Enqueue(&signal.Message{
			Type:       signal.MsgTypeAssignedPeerID,
			PeerID:     peerID,
			ICEServers: s.creds.Current().Servers,
		})
	})
	switch {
	case err == nil:
		util.LogInfo("peer %s joined room %q as %s", peerID, room.SanitizeRoomID(msg.RoomID), msg.Role)

	case errors.Is(err, room.ErrRoomFull):
		c.Enqueue(&signal.Message{Type: signal.MsgTypeRoomFull})
		util.LogInfo("join rejected, room %q is full", room.SanitizeRoomID(msg.RoomID))

	default:
		// Invalid room id or double join: both are dropped silently.
		util.LogDebug("dropping join: %v", err)
	}
}
