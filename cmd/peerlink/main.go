// Peerlink — demo client entry point.
//
// Joins a room through a peerlink relay, negotiates a direct data channel
// with every peer in the room, and turns stdin lines into broadcast chat
// messages. Useful for poking at a relay and as a worked example of the
// client orchestration API.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-server, -room, -role, -name, -password).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	ossignal "os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/akindo/peerlink/internal/client"
	"github.com/akindo/peerlink/internal/signal"
	"github.com/akindo/peerlink/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	serverFlag := flag.String("server", "", "Relay URL, e.g. wss://relay.example or ws://localhost:8080")
	roomFlag := flag.String("room", "", "Room identifier to join")
	roleFlag := flag.String("role", "", "Role: host or client")
	nameFlag := flag.String("name", "", "Display name")
	passwordFlag := flag.String("password", "", "Room password (optional)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peerlink — v%s", version))
	pterm.Println()

	var cfg client.Config
	if *serverFlag == "" {
		cfg = askConfig()
	} else {
		serverURL, err := normalizeWSURL(*serverFlag)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		if *roomFlag == "" || *nameFlag == "" {
			util.LogError("missing -room or -name")
			os.Exit(1)
		}
		role := signal.RoleClient
		if *roleFlag == "host" {
			role = signal.RoleHost
		} else if *roleFlag != "client" {
			util.LogError("invalid -role: must be 'host' or 'client'")
			os.Exit(1)
		}
		cfg = client.Config{ServerURL: serverURL, RoomID: *roomFlag, Role: role, Name: *nameFlag}
		if *passwordFlag != "" {
			hash := util.HashPassword(*passwordFlag)
			cfg.PasswordHash = &hash
		}
	}

	run(ctx, cfg)
}

func run(ctx context.Context, cfg client.Config) {
	cfg.OnChannelOpen = func(peerID string) {
		pterm.Success.Printfln("channel open with %s", shortID(peerID))
	}
	cfg.OnMessage = func(peerID string, data []byte) {
		if hello, err := signal.DecodeHello(data); err == nil && hello.Name != "" {
			pterm.Info.Printfln("%s introduced as %q", shortID(peerID), hello.Name)
			return
		}
		pterm.Println(pterm.Gray(fmt.Sprintf("[%s] ", shortID(peerID))) + string(data))
	}
	cfg.OnPeerLeft = func(peerID string) {
		pterm.Warning.Printfln("peer %s left", shortID(peerID))
	}

	orch := client.NewOrchestrator()
	defer orch.Reset()

	if err := orch.Connect(ctx, cfg); err != nil {
		util.LogError("failed to join room: %v", err)
		os.Exit(1)
	}
	util.LogInfo("joined room %q as %s (peer %s)", cfg.RoomID, cfg.Role, shortID(orch.SelfID()))
	pterm.Println("Type a message and press Enter to broadcast. Ctrl+C to quit.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !orch.HasOpenChannel() {
				util.LogWarning("no open channel yet, message not sent")
				continue
			}
			if err := orch.Broadcast([]byte(line)); err != nil {
				util.LogWarning("broadcast: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askConfig falls back to the original interactive prompts when no -server
// flag is provided.
func askConfig() client.Config {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host   — Open a room and wait for peers", "Client — Join an existing room"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	cfg := client.Config{Role: signal.RoleClient}
	if strings.HasPrefix(role, "Host") {
		cfg.Role = signal.RoleHost
	}

	cfg.ServerURL = askURL()
	cfg.RoomID = askNonEmpty("Room identifier")
	cfg.Name = askNonEmpty("Display name")

	password, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Room password (leave empty for none)").
		Show()
	if password = strings.TrimSpace(password); password != "" {
		hash := util.HashPassword(password)
		cfg.PasswordHash = &hash
	}
	pterm.Println()

	return cfg
}

// normalizeWSURL validates and normalizes a raw relay URL string.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askURL prompts the user for a valid relay URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. wss://relay.example)").
			Show()

		serverURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return serverURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askNonEmpty prompts until the user enters a non-empty value.
func askNonEmpty(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if value := strings.TrimSpace(raw); value != "" {
			pterm.Println()
			return value
		}

		util.LogWarning("value must not be empty")
		pterm.Println()
	}
}

func shortID(peerID string) string {
	if len(peerID) > 8 {
		return peerID[:8]
	}
	return peerID
}
