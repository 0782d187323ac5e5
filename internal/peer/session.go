package peer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/akindo/peerlink/internal/signal"
	"github.com/akindo/peerlink/internal/util"
)

const channelLabel = "peerlink"

// Role is the negotiation role of a session.
type Role string

const (
	RoleOffering  Role = "offering"
	RoleAnswering Role = "answering"
)

// State names the points of the negotiation lifecycle. Transitions:
//
//	offering:  idle → have-local-offer → connected → closed
//	answering: idle → have-remote-offer → connected → closed
//
// An ANSWER is accepted only in have-local-offer (and only once); anything
// else is a stale or duplicate negotiation message and is dropped.
type State string

const (
	StateIdle            State = "idle"
	StateHaveLocalOffer  State = "have-local-offer"
	StateHaveRemoteOffer State = "have-remote-offer"
	StateConnected       State = "connected"
	StateClosed          State = "closed"
)

// Config carries everything a session needs from its orchestrator.
type Config struct {
	// PeerID is the server-assigned identifier of the remote peer.
	PeerID string

	// Factory builds the underlying transport; ICEServers is the credential
	// snapshot received at join time.
	Factory    Factory
	ICEServers []signal.ICEServer

	// SendSignal delivers a message to the relay, best-effort.
	SendSignal func(msg *signal.Message)

	// OnOpen fires once when the data channel opens.
	OnOpen func(peerID string)

	// OnMessage fires for every inbound channel payload, the answering
	// side's hello included — the application interprets it.
	OnMessage func(peerID string, data []byte)

	// OnClose fires when the remote side closes the channel. It does not
	// fire during a local Close.
	OnClose func(peerID string)

	// Name and PasswordHash feed the hello the answering side sends on
	// channel open.
	Name         string
	PasswordHash *string
}

// Session owns one transport and one data channel toward a single remote
// peer. The transport and channel are released together, and only by Close.
type Session struct {
	cfg  Config
	role Role
	tr   Transport

	mu      sync.Mutex
	state   State
	channel DataChannel
	pending []webrtc.ICECandidateInit // candidates received before the remote description
}

// NewOffering creates the session an existing room member opens toward a
// newly joined peer: it allocates a transport, opens the data channel
// locally, and sends the offer to the relay.
func NewOffering(cfg Config) (*Session, error) {
	s := &Session{cfg: cfg, role: RoleOffering, state: StateIdle}

	tr, err := cfg.Factory(cfg.ICEServers)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	s.tr = tr
	s.emitCandidates()

	ch, err := tr.CreateDataChannel(channelLabel)
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	s.attachChannel(ch)

	offer, err := tr.CreateOffer()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := tr.SetLocalDescription(offer); err != nil {
		s.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	s.mu.Lock()
	s.state = StateHaveLocalOffer
	s.mu.Unlock()

	cfg.SendSignal(&signal.Message{
		Type:   signal.MsgTypeOffer,
		PeerID: cfg.PeerID,
		SDP:    offer.SDP,
	})
	return s, nil
}

// NewAnswering creates the session toward the peer whose offer just arrived:
// it allocates a transport, applies the offer, sends the answer, and waits
// for the offering side's channel to come through.
func NewAnswering(cfg Config, offerSDP string) (*Session, error) {
	s := &Session{cfg: cfg, role: RoleAnswering, state: StateIdle}

	tr, err := cfg.Factory(cfg.ICEServers)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	s.tr = tr
	s.emitCandidates()

	tr.OnDataChannel(func(ch DataChannel) {
		s.attachChannel(ch)
	})

	if err := tr.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	s.mu.Lock()
	s.state = StateHaveRemoteOffer
	s.mu.Unlock()
	s.flushPending()

	answer, err := tr.CreateAnswer()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := tr.SetLocalDescription(answer); err != nil {
		s.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	cfg.SendSignal(&signal.Message{
		Type:   signal.MsgTypeAnswer,
		PeerID: cfg.PeerID,
		SDP:    answer.SDP,
	})
	return s, nil
}

// PeerID returns the remote peer's server-assigned identifier.
func (s *Session) PeerID() string { return s.cfg.PeerID }

// Role returns the session's negotiation role.
func (s *Session) Role() Role { return s.role }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open reports whether the data channel is open.
func (s *Session) Open() bool {
	return s.State() == StateConnected
}

// HandleAnswer applies a remote answer. Legal only in have-local-offer with
// no remote description yet; anything else (stale, duplicate, wrong role) is
// dropped as a benign negotiation race.
func (s *Session) HandleAnswer(sdp string) {
	s.mu.Lock()
	ok := s.state == StateHaveLocalOffer && !s.tr.HasRemoteDescription()
	s.mu.Unlock()
	if !ok {
		util.LogDebug("peer %s: dropping answer in state %s", s.cfg.PeerID, s.State())
		return
	}

	if err := s.tr.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		util.LogDebug("peer %s: apply answer: %v", s.cfg.PeerID, err)
		return
	}
	s.flushPending()
}

// HandleCandidate applies a remote connectivity candidate, buffering it when
// the transport has no remote description yet. Buffered candidates are
// flushed in arrival order right after the remote description is applied.
func (s *Session) HandleCandidate(candidateJSON string) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidateJSON), &init); err != nil {
		util.LogDebug("peer %s: malformed candidate: %v", s.cfg.PeerID, err)
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if !s.tr.HasRemoteDescription() {
		s.pending = append(s.pending, init)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.tr.AddICECandidate(init); err != nil {
		util.LogDebug("peer %s: add candidate: %v", s.cfg.PeerID, err)
	}
}

// Send writes payload to the data channel. It fails when the channel is not
// open yet (or anymore).
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	ch := s.channel
	open := s.state == StateConnected
	s.mu.Unlock()

	if !open || ch == nil {
		return fmt.Errorf("peer %s: channel is not open", s.cfg.PeerID)
	}
	return ch.Send(payload)
}

// Close tears the session down: callbacks are unregistered first, then the
// channel is released, then the transport — in that order, so no callback
// fires against a half-closed session. Idempotent; the orchestrator removes
// the session from its map afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	ch := s.channel
	s.channel = nil
	s.pending = nil
	s.mu.Unlock()

	s.tr.OnICECandidate(func(*webrtc.ICECandidate) {})
	s.tr.OnDataChannel(func(DataChannel) {})
	if ch != nil {
		ch.OnOpen(func() {})
		ch.OnClose(func() {})
		ch.OnMessage(func([]byte) {})
		ch.Close()
	}
	s.tr.Close()
}

// emitCandidates registers the candidate-emission callback: every locally
// gathered candidate goes to the relay tagged with the remote peer id (the
// relay re-stamps it with the sender's id on fan-out).
func (s *Session) emitCandidates() {
	s.tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		data, _ := json.Marshal(c.ToJSON())
		s.cfg.SendSignal(&signal.Message{
			Type:      signal.MsgTypeIceCandidate,
			PeerID:    s.cfg.PeerID,
			Candidate: string(data),
		})
	})
}

// attachChannel takes ownership of the data channel and wires its events.
// The offering side calls it with the locally created channel; the answering
// side from the transport's channel-acceptance callback.
func (s *Session) attachChannel(ch DataChannel) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		ch.Close()
		return
	}
	s.channel = ch
	s.mu.Unlock()

	ch.OnOpen(func() { s.channelOpened() })
	ch.OnClose(func() { s.channelClosed() })
	ch.OnMessage(func(data []byte) {
		if s.State() == StateClosed {
			return
		}
		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(s.cfg.PeerID, data)
		}
	})
}

func (s *Session) channelOpened() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	ch := s.channel
	s.mu.Unlock()

	util.LogDebug("peer %s: data channel open (%s)", s.cfg.PeerID, s.role)

	// Only the answering side introduces itself; the hello is the one
	// channel-level payload this core produces.
	if s.role == RoleAnswering && ch != nil {
		if err := ch.Send(signal.EncodeHello(s.cfg.Name, s.cfg.PasswordHash)); err != nil {
			util.LogDebug("peer %s: send hello: %v", s.cfg.PeerID, err)
		}
	}

	if s.cfg.OnOpen != nil {
		s.cfg.OnOpen(s.cfg.PeerID)
	}
}

func (s *Session) channelClosed() {
	if s.State() == StateClosed {
		return
	}
	util.LogDebug("peer %s: data channel closed by remote", s.cfg.PeerID)
	if s.cfg.OnClose != nil {
		s.cfg.OnClose(s.cfg.PeerID)
	}
}

// flushPending adds buffered candidates in arrival order, none dropped, none
// duplicated. Called exactly once per applied remote description.
func (s *Session) flushPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, init := range pending {
		if err := s.tr.AddICECandidate(init); err != nil {
			util.LogDebug("peer %s: add buffered candidate: %v", s.cfg.PeerID, err)
		}
	}
}
