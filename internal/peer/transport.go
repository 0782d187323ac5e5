// Package peer holds the client-side per-peer state: one transport, one data
// channel, a negotiation role, and the state machine that drives a session
// from signaling events to an open channel.
//
// The transport itself (DTLS, ICE connectivity checks, SCTP) is an external
// capability; this package consumes it through the Transport interface and
// ships a pion-backed implementation.
package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/akindo/peerlink/internal/signal"
)

// DataChannel is the channel surface a session needs: lifecycle events and an
// open-gated send. Close must be a no-op on an already-closed channel.
type DataChannel interface {
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(data []byte))
	Send(data []byte) error
	Close() error
}

// Transport is the opaque peer transport collaborator. Close must be a no-op
// on an already-closed transport.
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(*webrtc.ICECandidate))
	CreateDataChannel(label string) (DataChannel, error)
	OnDataChannel(fn func(DataChannel))
	Close() error
}

// Factory builds a Transport from the credential snapshot the relay handed
// out at join time. Tests substitute an in-process fake.
type Factory func(servers []signal.ICEServer) (Transport, error)
