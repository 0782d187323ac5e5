// Package ice fetches and caches traversal-server credentials (STUN/TURN
// descriptors) from an external provider, serving the most recent snapshot to
// joining clients without ever blocking them on a fetch.
package ice

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/akindo/peerlink/internal/signal"
)

// Default STUN servers used when no credential provider is configured. No
// TURN here — relayed transport needs provider-issued credentials.
var defaultSTUNServers = []signal.ICEServer{
	{URLs: []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	}},
}

// stringOrStringSlice accepts either a JSON string or an array of strings,
// matching the shape browsers accept for RTCIceServer.urls.
type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("urls must be a string or an array of strings")
	}
	*s = many
	return nil
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

// parseServers decodes the provider payload: a JSON array of ICE server
// descriptors. An empty or URL-less list counts as a malformed payload so a
// misbehaving provider cannot blank out a previously good snapshot.
func parseServers(data []byte) ([]signal.ICEServer, error) {
	var raw []iceServerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}

	servers := make([]signal.ICEServer, 0, len(raw))
	for i, entry := range raw {
		if len(entry.URLs) == 0 {
			return nil, fmt.Errorf("ice server %d has no urls", i)
		}
		servers = append(servers, signal.ICEServer{
			URLs:       entry.URLs,
			Username:   entry.Username,
			Credential: entry.Credential,
		})
	}
	if len(servers) == 0 {
		return nil, errors.New("provider returned an empty ice server list")
	}
	return servers, nil
}

// ToWebRTC converts wire descriptors into the pion configuration type.
func ToWebRTC(servers []signal.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
