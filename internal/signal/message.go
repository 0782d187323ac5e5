// Package signal defines the JSON messages exchanged over the WebSocket
// between clients and the relay, plus the one-shot hello sent over the data
// channel once it opens.
package signal

import "encoding/json"

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeJoinRoom       MessageType = "JOIN_ROOM"
	MsgTypeAssignedPeerID MessageType = "ASSIGNED_PEER_ID"
	MsgTypePeerJoined     MessageType = "PEER_JOINED"
	MsgTypePeerLeft       MessageType = "PEER_LEFT"
	MsgTypeRoomFull       MessageType = "ROOM_FULL"
	MsgTypeOffer          MessageType = "OFFER"
	MsgTypeAnswer         MessageType = "ANSWER"
	MsgTypeIceCandidate   MessageType = "ICE_CANDIDATE"
)

// Role is the side a client takes in a room.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Message is the wire structure for all signaling traffic. Each type uses a
// subset of the fields; the rest stay empty and are omitted from the JSON.
//
// For relayed messages (OFFER / ANSWER / ICE_CANDIDATE) the relay overwrites
// PeerID with the server-assigned identifier of the true sender before
// fan-out. A sender's own claim is never forwarded.
type Message struct {
	Type         MessageType `json:"type"`
	RoomID       string      `json:"roomId,omitempty"`
	Role         Role        `json:"role,omitempty"`
	Name         string      `json:"name,omitempty"`
	PasswordHash string      `json:"passwordHash,omitempty"`
	PeerID       string      `json:"peerId,omitempty"`
	SDP          string      `json:"sdp,omitempty"`
	Candidate    string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
	ICEServers   []ICEServer `json:"iceServers,omitempty"`
}

// ICEServer describes one STUN/TURN server handed to joining clients.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Relayed reports whether this message type is forwarded to other room
// members rather than handled by the relay itself.
func (t MessageType) Relayed() bool {
	switch t {
	case MsgTypeOffer, MsgTypeAnswer, MsgTypeIceCandidate:
		return true
	}
	return false
}

// Hello is the application-level handshake sent exactly once, answering side
// to offering side, immediately after the data channel opens. The relay never
// sees it; interpretation (e.g. the password check) is up to the application.
type Hello struct {
	Name         string  `json:"name"`
	PasswordHash *string `json:"passwordHash"`
}

// EncodeHello marshals a Hello payload for the data channel.
func EncodeHello(name string, passwordHash *string) []byte {
	data, _ := json.Marshal(Hello{Name: name, PasswordHash: passwordHash})
	return data
}

// DecodeHello parses a Hello payload received on the data channel.
func DecodeHello(data []byte) (Hello, error) {
	var h Hello
	err := json.Unmarshal(data, &h)
	return h, err
}
