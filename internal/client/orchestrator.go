// Package client drives a peer from "joined a room" to "data channel open".
// The Orchestrator owns the signaling connection to the relay and the map of
// active peer sessions; the application talks to peers only through it.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/akindo/peerlink/internal/peer"
	"github.com/akindo/peerlink/internal/signal"
	"github.com/akindo/peerlink/internal/util"
)

// ErrRoomFull is returned by Connect when the relay rejects the join. The
// core never retries; pick another room or surface the failure.
var ErrRoomFull = errors.New("room is full")

// ErrNoOpenChannel is returned by sends that found no open session.
var ErrNoOpenChannel = errors.New("no open data channel")

// Config parameterizes one Connect call.
type Config struct {
	// ServerURL is the relay's signaling endpoint, e.g. wss://relay.example/ws.
	ServerURL string

	RoomID string
	Role   signal.Role
	Name   string

	// PasswordHash is the opaque credential carried in the join and in the
	// answering side's hello. Nil means the room is open.
	PasswordHash *string

	// OnChannelOpen fires once per peer when its data channel opens.
	OnChannelOpen func(peerID string)

	// OnMessage fires for every channel payload received from a peer,
	// including the hello (decode with signal.DecodeHello if you care).
	OnMessage func(peerID string, data []byte)

	// OnPeerLeft fires when a peer's session goes away, either via the
	// relay's PEER_LEFT or a remote channel close.
	OnPeerLeft func(peerID string)

	// TransportFactory overrides the pion transport, for tests. Nil means
	// peer.PionFactory.
	TransportFactory peer.Factory
}

// Orchestrator holds at most one active signaling connection and one session
// set at any time. Connect always resets first, so resources from a previous
// connection are never still held when a new one opens.
type Orchestrator struct {
	mu         sync.Mutex
	gen        int // bumped by every Reset; stale readLoops discard their work
	cfg        Config
	ws         *websocket.Conn
	sessions   map[string]*peer.Session
	selfID     string
	iceServers []signal.ICEServer

	// wsMu serializes writes to the signaling connection; candidate
	// callbacks write concurrently with the read loop's replies.
	wsMu sync.Mutex
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{}
}

// Connect joins a room: it resets any previous connection, dials the relay,
// sends JOIN_ROOM, and blocks until the relay assigns a peer identifier,
// rejects the join, or ctx expires. Peer sessions then come and go as
// signaling events arrive.
func (o *Orchestrator) Connect(ctx context.Context, cfg Config) error {
	o.Reset()

	if cfg.TransportFactory == nil {
		cfg.TransportFactory = peer.PionFactory
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	joinCh := make(chan error, 1)

	o.mu.Lock()
	o.gen++
	gen := o.gen
	o.cfg = cfg
	o.ws = ws
	o.sessions = make(map[string]*peer.Session)
	o.mu.Unlock()

	go o.readLoop(ws, gen, joinCh)

	join := &signal.Message{
		Type:   signal.MsgTypeJoinRoom,
		RoomID: cfg.RoomID,
		Role:   cfg.Role,
		Name:   cfg.Name,
	}
	if cfg.PasswordHash != nil {
		join.PasswordHash = *cfg.PasswordHash
	}
	o.send(join)

	select {
	case err := <-joinCh:
		if err != nil {
			o.Reset()
			return err
		}
		return nil
	case <-ctx.Done():
		o.Reset()
		return ctx.Err()
	}
}

// Reset tears down leaf-first: every peer session closes (channel, then
// transport) before its map entry is discarded, then the signaling connection
// goes. Safe to call when nothing is connected, and redundantly.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.gen++
	gen := o.gen
	sessions := o.sessions
	ws := o.ws
	o.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	o.mu.Lock()
	// A Connect racing ahead of this Reset already replaced the fields;
	// only clear state that still belongs to the generation being torn down.
	if o.gen == gen {
		o.sessions = nil
		o.ws = nil
		o.selfID = ""
		o.iceServers = nil
	}
	o.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

// SelfID returns the peer identifier the relay assigned at join time, empty
// before a successful Connect.
func (o *Orchestrator) SelfID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selfID
}

// HasOpenChannel reports whether at least one peer's data channel is open.
func (o *Orchestrator) HasOpenChannel() bool {
	for _, s := range o.snapshot() {
		if s.Open() {
			return true
		}
	}
	return false
}

// Broadcast sends payload to every peer with an open channel.
func (o *Orchestrator) Broadcast(payload []byte) error {
	var errs []error
	for _, s := range o.snapshot() {
		if !s.Open() {
			continue
		}
		if err := s.Send(payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendTo sends payload to a single peer.
func (o *Orchestrator) SendTo(peerID string, payload []byte) error {
	o.mu.Lock()
	s := o.sessions[peerID]
	o.mu.Unlock()
	if s == nil {
		return fmt.Errorf("peer %s: %w", peerID, ErrNoOpenChannel)
	}
	return s.Send(payload)
}

// SendToHost sends payload on the first open session. With one session (the
// usual client topology: exactly one, toward the host) that is the host; the
// order among several equally open sessions is unspecified.
func (o *Orchestrator) SendToHost(payload []byte) error {
	for _, s := range o.snapshot() {
		if s.Open() {
			return s.Send(payload)
		}
	}
	return ErrNoOpenChannel
}

func (o *Orchestrator) snapshot() []*peer.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*peer.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	return out
}

// send writes one signaling message, best-effort: a failed write is logged
// and forgotten, since signaling races during teardown are normal.
func (o *Orchestrator) send(msg *signal.Message) {
	o.mu.Lock()
	ws := o.ws
	o.mu.Unlock()
	if ws == nil {
		return
	}

	o.wsMu.Lock()
	defer o.wsMu.Unlock()
	if err := ws.WriteJSON(msg); err != nil {
		util.LogDebug("signaling send failed: %v", err)
	}
}

// readLoop is the single thread of control for signaling events: every
// message from the relay is handled here in order, so no two handlers for the
// same orchestrator generation run concurrently.
func (o *Orchestrator) readLoop(ws *websocket.Conn, gen int, joinCh chan<- error) {
	for {
		var msg signal.Message
		if err := ws.ReadJSON(&msg); err != nil {
			util.LogDebug("signaling connection closed: %v", err)
			return
		}
		o.handle(&msg, gen, joinCh)
	}
}

func (o *Orchestrator) handle(msg *signal.Message, gen int, joinCh chan<- error) {
	switch msg.Type {
	case signal.MsgTypeAssignedPeerID:
		o.mu.Lock()
		if o.gen == gen {
			o.selfID = msg.PeerID
			o.iceServers = msg.ICEServers
		}
		o.mu.Unlock()
		select {
		case joinCh <- nil:
		default:
		}

	case signal.MsgTypeRoomFull:
		select {
		case joinCh <- ErrRoomFull:
		default:
		}

	case signal.MsgTypePeerJoined:
		o.openOffering(msg.PeerID, gen)

	case signal.MsgTypeOffer:
		o.openAnswering(msg.PeerID, msg.SDP, gen)

	case signal.MsgTypeAnswer:
		if s := o.lookup(msg.PeerID); s != nil {
			s.HandleAnswer(msg.SDP)
		} else {
			util.LogDebug("dropping answer from unknown peer %s", msg.PeerID)
		}

	case signal.MsgTypeIceCandidate:
		if s := o.lookup(msg.PeerID); s != nil {
			s.HandleCandidate(msg.Candidate)
		} else {
			util.LogDebug("dropping candidate from unknown peer %s", msg.PeerID)
		}

	case signal.MsgTypePeerLeft:
		o.removePeer(msg.PeerID, true)

	default:
		util.LogDebug("dropping message with unknown type %q", msg.Type)
	}
}

func (o *Orchestrator) lookup(peerID string) *peer.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[peerID]
}

// openOffering reacts to PEER_JOINED: the member already in the room offers
// toward the newcomer.
func (o *Orchestrator) openOffering(peerID string, gen int) {
	o.mu.Lock()
	if o.gen != gen || o.sessions[peerID] != nil {
		o.mu.Unlock()
		return
	}
	cfg := o.sessionConfig(peerID)
	o.mu.Unlock()

	s, err := peer.NewOffering(cfg)
	if err != nil {
		util.LogWarning("offer to peer %s failed: %v", peerID, err)
		return
	}
	o.adopt(peerID, s, gen)
}

// openAnswering reacts to an OFFER from a peer with no existing session; an
// offer for a known peer is dropped (glare is not negotiated away, the
// earlier session wins).
func (o *Orchestrator) openAnswering(peerID, sdp string, gen int) {
	o.mu.Lock()
	if o.gen != gen || o.sessions[peerID] != nil {
		o.mu.Unlock()
		util.LogDebug("dropping offer from peer %s", peerID)
		return
	}
	cfg := o.sessionConfig(peerID)
	o.mu.Unlock()

	s, err := peer.NewAnswering(cfg, sdp)
	if err != nil {
		util.LogWarning("answer to peer %s failed: %v", peerID, err)
		return
	}
	o.adopt(peerID, s, gen)
}

// adopt inserts a freshly negotiated session unless a Reset happened while it
// was being built, in which case the session is closed instead of leaked.
func (o *Orchestrator) adopt(peerID string, s *peer.Session, gen int) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		s.Close()
		return
	}
	o.sessions[peerID] = s
	o.mu.Unlock()
}

// sessionConfig builds the per-session wiring. Caller holds o.mu.
func (o *Orchestrator) sessionConfig(peerID string) peer.Config {
	cfg := o.cfg
	return peer.Config{
		PeerID:       peerID,
		Factory:      cfg.TransportFactory,
		ICEServers:   o.iceServers,
		SendSignal:   o.send,
		Name:         cfg.Name,
		PasswordHash: cfg.PasswordHash,
		OnOpen: func(id string) {
			util.LogInfo("data channel open with peer %s", id)
			if cfg.OnChannelOpen != nil {
				cfg.OnChannelOpen(id)
			}
		},
		OnMessage: cfg.OnMessage,
		OnClose: func(id string) {
			o.removePeer(id, true)
		},
	}
}

// removePeer closes one session (channel, then transport) and only then drops
// it from the map. notify controls the OnPeerLeft callback (teardown via
// Reset stays silent); whichever caller wins the map removal delivers it.
func (o *Orchestrator) removePeer(peerID string, notify bool) {
	o.mu.Lock()
	s := o.sessions[peerID]
	cb := o.cfg.OnPeerLeft
	o.mu.Unlock()
	if s == nil {
		return
	}

	s.Close()

	o.mu.Lock()
	removed := o.sessions[peerID] == s
	if removed {
		delete(o.sessions, peerID)
	}
	o.mu.Unlock()

	if removed && notify && cb != nil {
		cb(peerID)
	}
}
