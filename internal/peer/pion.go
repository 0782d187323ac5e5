package peer

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/akindo/peerlink/internal/ice"
	"github.com/akindo/peerlink/internal/signal"
)

// PionFactory is the production transport factory, backed by pion/webrtc.
func PionFactory(servers []signal.ICEServer) (Transport, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: ice.ToWebRTC(servers),
	})
	if err != nil {
		return nil, err
	}
	return &pionTransport{pc: pc}, nil
}

// pionTransport adapts a pion PeerConnection to the Transport interface.
type pionTransport struct {
	pc *webrtc.PeerConnection

	closeOnce sync.Once
	closeErr  error
}

func (t *pionTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

func (t *pionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

func (t *pionTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(desc)
}

func (t *pionTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *pionTransport) HasRemoteDescription() bool {
	return t.pc.RemoteDescription() != nil
}

func (t *pionTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

func (t *pionTransport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

func (t *pionTransport) CreateDataChannel(label string) (DataChannel, error) {
	dc, err := t.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

func (t *pionTransport) OnDataChannel(fn func(DataChannel)) {
	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&pionChannel{dc: dc})
	})
}

func (t *pionTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}

// pionChannel adapts a pion DataChannel to the DataChannel interface.
type pionChannel struct {
	dc *webrtc.DataChannel

	closeOnce sync.Once
	closeErr  error
}

func (c *pionChannel) OnOpen(fn func())  { c.dc.OnOpen(fn) }
func (c *pionChannel) OnClose(fn func()) { c.dc.OnClose(fn) }

func (c *pionChannel) OnMessage(fn func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (c *pionChannel) Send(data []byte) error {
	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errors.New("data channel is not open")
	}
	return c.dc.Send(data)
}

func (c *pionChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.dc.Close()
	})
	return c.closeErr
}
