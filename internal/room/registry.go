// Package room implements the relay's in-memory room registry: admission,
// peer identifier assignment, message fan-out, and cleanup. Rooms are
// ephemeral for the process lifetime; a room exists iff it has at least one
// member.
package room

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/akindo/peerlink/internal/signal"
)

const (
	// Capacity is the maximum number of members a room may hold. The
	// (Capacity+1)-th join is rejected with ErrRoomFull, never queued.
	Capacity = 8

	maxRoomIDLen = 32
)

var (
	ErrRoomFull      = errors.New("room is full")
	ErrInvalidRoomID = errors.New("invalid room id")
	ErrAlreadyJoined = errors.New("connection already joined a room")
)

// Member is the registry's view of a connection. Enqueue offers a message to
// the member's outbound queue and returns false when the member is no longer
// writable; the registry simply skips such members (sends are best-effort).
type Member interface {
	Enqueue(msg *signal.Message) bool
}

type membership struct {
	peerID string
	roomID string
}

// Registry maps room identifiers to member sets. All state is owned by the
// instance; a single mutex guards it (message volume per connection is capped
// upstream by the rate limiter, so contention stays low).
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]map[Member]struct{}
	byMember map[Member]membership
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]map[Member]struct{}),
		byMember: make(map[Member]membership),
	}
}

// SanitizeRoomID strips every character outside [A-Za-z0-9_-] and truncates
// the result to the maximum length. An identifier that sanitizes to the empty
// string is invalid.
func SanitizeRoomID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
		if b.Len() == maxRoomIDLen {
			break
		}
	}
	return b.String()
}

// Join admits m into the room named by rawRoomID (sanitized), creating the
// room if absent, and returns the freshly assigned peer identifier. reply, if
// non-nil, is invoked with the identifier under the registry lock before any
// other member is notified with PEER_JOINED: the joiner always hears about
// its own admission before a notified peer can reach it. Join never mutates
// state on failure.
func (r *Registry) Join(m Member, rawRoomID string, reply func(peerID string)) (string, error) {
	roomID := SanitizeRoomID(rawRoomID)
	if roomID == "" {
		return "", ErrInvalidRoomID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byMember[m]; ok {
		return "", ErrAlreadyJoined
	}

	members := r.rooms[roomID]
	if len(members) >= Capacity {
		return "", ErrRoomFull
	}
	if members == nil {
		members = make(map[Member]struct{})
		r.rooms[roomID] = members
	}

	peerID := uuid.NewString()
	members[m] = struct{}{}
	r.byMember[m] = membership{peerID: peerID, roomID: roomID}

	if reply != nil {
		reply(peerID)
	}

	notice := &signal.Message{Type: signal.MsgTypePeerJoined, PeerID: peerID}
	for other := range members {
		if other != m {
			other.Enqueue(notice)
		}
	}

	return peerID, nil
}

// Relay forwards msg to every other member of m's room, stamped with m's
// server-assigned peer identifier. It returns false when m has no room; the
// caller drops the message silently (signaling races during teardown are
// expected, not exceptional).
func (r *Registry) Relay(m Member, msg *signal.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	mb, ok := r.byMember[m]
	if !ok {
		return false
	}

	stamped := *msg
	stamped.PeerID = mb.peerID
	for other := range r.rooms[mb.roomID] {
		if other != m {
			other.Enqueue(&stamped)
		}
	}
	return true
}

// Leave removes m from its room, deleting the room once empty and notifying
// any remaining members with PEER_LEFT. Idempotent.
func (r *Registry) Leave(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mb, ok := r.byMember[m]
	if !ok {
		return
	}
	delete(r.byMember, m)

	members := r.rooms[mb.roomID]
	delete(members, m)
	if len(members) == 0 {
		delete(r.rooms, mb.roomID)
		return
	}

	notice := &signal.Message{Type: signal.MsgTypePeerLeft, PeerID: mb.peerID}
	for other := range members {
		other.Enqueue(notice)
	}
}

// PeerID returns the identifier assigned to m at join time.
func (r *Registry) PeerID(m Member) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb, ok := r.byMember[m]
	return mb.peerID, ok
}

// HasRoom reports whether a room currently exists in the registry.
func (r *Registry) HasRoom(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

// MemberCount returns the current size of a room (0 if absent).
func (r *Registry) MemberCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}
