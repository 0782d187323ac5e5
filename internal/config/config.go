// Package config loads the relay server's configuration from the
// environment. The listening port is environment-provided (PORT), matching
// the platforms the relay deploys to.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/akindo/peerlink/internal/ice"
)

const (
	envPort        = "PORT"
	envProviderURL = "PEERLINK_ICE_PROVIDER_URL"
	envICERefresh  = "PEERLINK_ICE_REFRESH"

	defaultPort = 8080
)

// Relay holds everything the relay binary needs at startup.
type Relay struct {
	// Port is the relay's listening port.
	Port int

	// ICEProviderURL is the credential provider endpoint. Empty means no
	// provider: clients get the built-in STUN list.
	ICEProviderURL string

	// ICERefreshInterval spaces out credential fetches.
	ICERefreshInterval time.Duration
}

// RelayFromEnv reads the relay configuration from the environment, applying
// defaults for anything unset.
func RelayFromEnv() (Relay, error) {
	cfg := Relay{
		Port:               defaultPort,
		ICEProviderURL:     os.Getenv(envProviderURL),
		ICERefreshInterval: ice.DefaultRefreshInterval,
	}

	if raw := os.Getenv(envPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 1 || port > 65535 {
			return Relay{}, fmt.Errorf("%s: invalid port %q", envPort, raw)
		}
		cfg.Port = port
	}

	if raw := os.Getenv(envICERefresh); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Relay{}, fmt.Errorf("%s: invalid duration %q", envICERefresh, raw)
		}
		cfg.ICERefreshInterval = d
	}

	return cfg, nil
}
