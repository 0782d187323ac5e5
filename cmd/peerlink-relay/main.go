// Peerlink relay — signaling server entry point.
//
// The relay brokers session setup between peers in a room (join, SDP
// offers/answers, ICE candidates) and hands out traversal credentials. Once a
// data channel opens, peers talk directly; the relay never sees their data.
//
// Configuration comes from the environment (PORT, PEERLINK_ICE_PROVIDER_URL,
// PEERLINK_ICE_REFRESH) with flag overrides (-port, -iceProviderUrl,
// -iceRefresh, -debug).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/akindo/peerlink/internal/config"
	"github.com/akindo/peerlink/internal/ice"
	"github.com/akindo/peerlink/internal/relay"
	"github.com/akindo/peerlink/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.RelayFromEnv()
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	portFlag := flag.Int("port", 0, "Listening port (overrides PORT)")
	providerFlag := flag.String("iceProviderUrl", "", "ICE credential provider URL (overrides PEERLINK_ICE_PROVIDER_URL)")
	refreshFlag := flag.Duration("iceRefresh", 0, "ICE credential refresh interval (overrides PEERLINK_ICE_REFRESH)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}
	if *portFlag > 0 {
		cfg.Port = *portFlag
	}
	if *providerFlag != "" {
		cfg.ICEProviderURL = *providerFlag
	}
	if *refreshFlag > 0 {
		cfg.ICERefreshInterval = *refreshFlag
	}

	util.LogInfo("peerlink-relay v%s", version)

	creds := ice.NewCache(cfg.ICEProviderURL, cfg.ICERefreshInterval)
	go creds.Run(ctx, util.LogWarning)
	if cfg.ICEProviderURL == "" {
		util.LogInfo("no ICE credential provider configured, serving built-in STUN list")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: relay.NewServer(creds, nil).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	util.LogInfo("listening on :%d", cfg.Port)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("relay server failed: %v", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		util.LogInfo("relay stopped")
	}
}
