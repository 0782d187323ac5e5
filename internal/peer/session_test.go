package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/akindo/peerlink/internal/signal"
)

// fakeChannel is a controllable DataChannel: tests fire open/close/message
// events by hand and inspect everything sent.
type fakeChannel struct {
	mu        sync.Mutex
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
	sent      [][]byte
	open      bool
	closed    bool
	onClosed  func() // test hook, records teardown order
}

func (c *fakeChannel) OnOpen(fn func())            { c.mu.Lock(); c.onOpen = fn; c.mu.Unlock() }
func (c *fakeChannel) OnClose(fn func())           { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *fakeChannel) OnMessage(fn func([]byte))   { c.mu.Lock(); c.onMessage = fn; c.mu.Unlock() }

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.closed {
		return errors.New("fake channel is not open")
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	hook := c.onClosed
	c.closed = true
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (c *fakeChannel) fireOpen() {
	c.mu.Lock()
	c.open = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeChannel) sentMessages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// fakeTransport satisfies Transport with canned SDP and full call recording.
type fakeTransport struct {
	mu             sync.Mutex
	remoteDesc     *webrtc.SessionDescription
	setRemoteCalls int
	added          []webrtc.ICECandidateInit
	onICE          func(*webrtc.ICECandidate)
	onDC           func(DataChannel)
	channel        *fakeChannel
	closed         bool
	onClosed       func() // test hook, records teardown order
}

func (t *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (t *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (t *fakeTransport) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (t *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteDesc = &desc
	t.setRemoteCalls++
	return nil
}

func (t *fakeTransport) HasRemoteDescription() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteDesc != nil
}

func (t *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.added = append(t.added, c)
	return nil
}

func (t *fakeTransport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *fakeTransport) CreateDataChannel(string) (DataChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = &fakeChannel{}
	return t.channel, nil
}

func (t *fakeTransport) OnDataChannel(fn func(DataChannel)) {
	t.mu.Lock()
	t.onDC = fn
	t.mu.Unlock()
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	hook := t.onClosed
	t.closed = true
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (t *fakeTransport) addedCandidates() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), t.added...)
}

// sink collects signaling messages a session sends toward the relay.
type sink struct {
	mu   sync.Mutex
	msgs []*signal.Message
}

func (s *sink) send(msg *signal.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *sink) byType(t signal.MessageType) []*signal.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*signal.Message
	for _, m := range s.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func testConfig(tr *fakeTransport, out *sink) Config {
	return Config{
		PeerID:     "remote-peer",
		Factory:    func([]signal.ICEServer) (Transport, error) { return tr, nil },
		SendSignal: out.send,
		Name:       "alice",
	}
}

func candidateJSON(n int) string {
	return fmt.Sprintf(`{"candidate":"candidate:%d 1 udp 1 127.0.0.1 %d typ host","sdpMid":"0"}`, n, 50000+n)
}

func TestOfferingFlow(t *testing.T) {
	tr := &fakeTransport{}
	out := &sink{}
	cfg := testConfig(tr, out)
	var opened []string
	cfg.OnOpen = func(peerID string) { opened = append(opened, peerID) }

	s, err := NewOffering(cfg)
	if err != nil {
		t.Fatalf("NewOffering failed: %v", err)
	}
	if s.Role() != RoleOffering {
		t.Errorf("role = %s, want offering", s.Role())
	}
	if got := s.State(); got != StateHaveLocalOffer {
		t.Fatalf("state = %s, want have-local-offer", got)
	}

	offers := out.byType(signal.MsgTypeOffer)
	if len(offers) != 1 {
		t.Fatalf("sent %d offers, want 1", len(offers))
	}
	if offers[0].PeerID != "remote-peer" || offers[0].SDP != "offer-sdp" {
		t.Errorf("offer = %+v", offers[0])
	}

	s.HandleAnswer("answer-sdp")
	if !tr.HasRemoteDescription() {
		t.Fatal("answer not applied")
	}

	tr.channel.fireOpen()
	if got := s.State(); got != StateConnected {
		t.Fatalf("state after open = %s, want connected", got)
	}
	if len(opened) != 1 || opened[0] != "remote-peer" {
		t.Errorf("OnOpen calls = %v", opened)
	}
	// The offering side never sends the hello.
	if got := tr.channel.sentMessages(); len(got) != 0 {
		t.Errorf("offering side sent %d channel payloads, want 0", len(got))
	}
}

func TestAnsweringFlowSendsHello(t *testing.T) {
	tr := &fakeTransport{}
	out := &sink{}
	cfg := testConfig(tr, out)
	hash := "deadbeef"
	cfg.PasswordHash = &hash

	s, err := NewAnswering(cfg, "offer-sdp")
	if err != nil {
		t.Fatalf("NewAnswering failed: %v", err)
	}
	if s.Role() != RoleAnswering {
		t.Errorf("role = %s, want answering", s.Role())
	}
	if got := s.State(); got != StateHaveRemoteOffer {
		t.Fatalf("state = %s, want have-remote-offer", got)
	}

	answers := out.byType(signal.MsgTypeAnswer)
	if len(answers) != 1 || answers[0].SDP != "answer-sdp" {
		t.Fatalf("answers = %+v", answers)
	}

	// The offering side's channel arrives through the transport.
	ch := &fakeChannel{}
	tr.onDC(ch)
	ch.fireOpen()

	if got := s.State(); got != StateConnected {
		t.Fatalf("state after open = %s, want connected", got)
	}
	sent := ch.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("answering side sent %d payloads, want exactly the hello", len(sent))
	}
	hello, err := signal.DecodeHello(sent[0])
	if err != nil {
		t.Fatalf("hello does not decode: %v", err)
	}
	if hello.Name != "alice" || hello.PasswordHash == nil || *hello.PasswordHash != "deadbeef" {
		t.Errorf("hello = %+v", hello)
	}
}

func TestDuplicateAnswerDropped(t *testing.T) {
	tr := &fakeTransport{}
	s, err := NewOffering(testConfig(tr, &sink{}))
	if err != nil {
		t.Fatalf("NewOffering failed: %v", err)
	}

	s.HandleAnswer("answer-sdp")
	s.HandleAnswer("answer-sdp") // late duplicate: benign, dropped

	tr.mu.Lock()
	calls := tr.setRemoteCalls
	tr.mu.Unlock()
	if calls != 1 {
		t.Fatalf("SetRemoteDescription called %d times, want 1", calls)
	}
}

func TestAnswerToAnsweringSessionDropped(t *testing.T) {
	tr := &fakeTransport{}
	s, err := NewAnswering(testConfig(tr, &sink{}), "offer-sdp")
	if err != nil {
		t.Fatalf("NewAnswering failed: %v", err)
	}

	s.HandleAnswer("answer-sdp")

	tr.mu.Lock()
	calls := tr.setRemoteCalls
	tr.mu.Unlock()
	if calls != 1 { // only the offer
		t.Fatalf("SetRemoteDescription called %d times, want 1", calls)
	}
}

func TestCandidateBufferingPreservesOrder(t *testing.T) {
	tr := &fakeTransport{}
	s, err := NewOffering(testConfig(tr, &sink{}))
	if err != nil {
		t.Fatalf("NewOffering failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		s.HandleCandidate(candidateJSON(i))
	}
	if got := tr.addedCandidates(); len(got) != 0 {
		t.Fatalf("%d candidates applied before the remote description", len(got))
	}

	s.HandleAnswer("answer-sdp")

	got := tr.addedCandidates()
	if len(got) != 3 {
		t.Fatalf("%d candidates applied after flush, want 3", len(got))
	}
	for i, init := range got {
		var want webrtc.ICECandidateInit
		json.Unmarshal([]byte(candidateJSON(i)), &want)
		if init.Candidate != want.Candidate {
			t.Errorf("candidate %d out of order: got %q, want %q", i, init.Candidate, want.Candidate)
		}
	}

	// Once the remote description is set, candidates apply directly.
	s.HandleCandidate(candidateJSON(3))
	if got := tr.addedCandidates(); len(got) != 4 {
		t.Fatalf("%d candidates applied, want 4", len(got))
	}
}

func TestMalformedCandidateDropped(t *testing.T) {
	tr := &fakeTransport{}
	s, err := NewOffering(testConfig(tr, &sink{}))
	if err != nil {
		t.Fatalf("NewOffering failed: %v", err)
	}

	s.HandleCandidate("{broken")
	s.HandleAnswer("answer-sdp")
	if got := tr.addedCandidates(); len(got) != 0 {
		t.Fatalf("malformed candidate was applied: %v", got)
	}
}

func TestCandidateEmissionGoesToRelay(t *testing.T) {
	tr := &fakeTransport{}
	out := &sink{}
	if _, err := NewOffering(testConfig(tr, out)); err != nil {
		t.Fatalf("NewOffering failed: %v", err)
	}

	tr.onICE(&webrtc.ICECandidate{
		Foundation: "1",
		Protocol:   webrtc.ICEProtocolUDP,
		Address:    "127.0.0.1",
		Port:       50000,
		Typ:        webrtc.ICECandidateTypeHost,
	})
	tr.onICE(nil) // end of gathering, must not be forwarded

	sent := out.byType(signal.MsgTypeIceCandidate)
	if len(sent) != 1 {
		t.Fatalf("sent %d candidate messages, want 1", len(sent))
	}
	if sent[0].PeerID != "remote-peer" || sent[0].Candidate == "" {
		t.Errorf("candidate message = %+v", sent[0])
	}
}

func TestCloseOrderAndIdempotence(t *testing.T) {
	tr := &fakeTransport{}
	out := &sink{}
	cfg := testConfig(tr, out)
	openFired := false
	cfg.OnOpen = func(string) { openFired = true }

	s, err := NewOffering(cfg)
	if err != nil {
		t.Fatalf("NewOffering failed: %v", err)
	}

	var order []string
	tr.channel.mu.Lock()
	tr.channel.onClosed = func() { order = append(order, "channel") }
	tr.channel.mu.Unlock()
	tr.mu.Lock()
	tr.onClosed = func() { order = append(order, "transport") }
	tr.mu.Unlock()

	s.Close()
	s.Close() // redundant teardown must be a no-op

	if len(order) != 2 || order[0] != "channel" || order[1] != "transport" {
		t.Fatalf("teardown order = %v, want [channel transport]", order)
	}
	if got := s.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}

	// Callbacks were unregistered before anything was released: a straggling
	// open event must not reach the application.
	tr.channel.fireOpen()
	if openFired {
		t.Error("OnOpen fired against a closed session")
	}
}

func TestSendRequiresOpenChannel(t *testing.T) {
	tr := &fakeTransport{}
	s, err := NewOffering(testConfig(tr, &sink{}))
	if err != nil {
		t.Fatalf("NewOffering failed: %v", err)
	}

	if err := s.Send([]byte("too early")); err == nil {
		t.Fatal("Send before open must fail")
	}

	s.HandleAnswer("answer-sdp")
	tr.channel.fireOpen()
	if err := s.Send([]byte("hi")); err != nil {
		t.Fatalf("Send after open failed: %v", err)
	}

	s.Close()
	if err := s.Send([]byte("too late")); err == nil {
		t.Fatal("Send after close must fail")
	}
}

func TestMessagesReachCallback(t *testing.T) {
	tr := &fakeTransport{}
	out := &sink{}
	cfg := testConfig(tr, out)
	var got [][]byte
	cfg.OnMessage = func(peerID string, data []byte) { got = append(got, data) }

	s, err := NewOffering(cfg)
	if err != nil {
		t.Fatalf("NewOffering failed: %v", err)
	}
	s.HandleAnswer("answer-sdp")
	tr.channel.fireOpen()

	tr.channel.mu.Lock()
	deliver := tr.channel.onMessage
	tr.channel.mu.Unlock()
	deliver([]byte("payload"))

	if len(got) != 1 || string(got[0]) != "payload" {
		t.Fatalf("OnMessage got %q", got)
	}
}
