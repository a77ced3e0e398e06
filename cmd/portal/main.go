// Portal — CLI entry point for the caller side of a tunnelmesh session.
//
// A portal listens on a local address and, for every connection accepted
// there, opens a fresh WebRTC DataChannel to a remote proxy and bridges the
// two. Signaling (offer/answer/candidate exchange and liveness) travels
// over MQTT rather than a point-to-point relay.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-local, -remote, -listen, -broker).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"github.com/1ureka/tunnelmesh/internal/config"
	"github.com/1ureka/tunnelmesh/internal/manager"
	"github.com/1ureka/tunnelmesh/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	localID := flag.String("local", "", "Local identity announced to the signaling broker (default: random)")
	remoteID := flag.String("remote", "", "Remote proxy identity to connect to")
	listenAddr := flag.String("listen", "", "Local address to listen on (host:port, or unix:///path)")
	broker := flag.String("broker", "", "MQTT broker URL (e.g. tcp://localhost:1883)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("tunnelmesh portal — v%s", version))
	pterm.Println()

	if *remoteID == "" || *listenAddr == "" {
		runInteractive(ctx, *localID, *broker)
		return
	}

	run(ctx, resolveLocalID(*localID), *remoteID, *listenAddr, *broker)
}

func runInteractive(ctx context.Context, localID, broker string) {
	if localID == "" {
		localID = resolveLocalID("")
	}

	remoteID, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Remote proxy identity to connect to").
		Show()
	remoteID = strings.TrimSpace(remoteID)

	listenAddr, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Local address to listen on (host:port, or unix:///path)").
		Show()
	listenAddr = strings.TrimSpace(listenAddr)

	pterm.Println()
	run(ctx, localID, remoteID, listenAddr, broker)
}

func run(ctx context.Context, localID, remoteID, listenAddr, broker string) {
	mqttCfg := config.DefaultMQTTConfig()
	if broker != "" {
		mqttCfg.BrokerURL = broker
	}

	m, err := manager.NewPortalManager(ctx, localID, mqttCfg, config.DefaultPeerConfig())
	if err != nil {
		util.LogError("failed to start portal manager: %v", err)
		os.Exit(1)
	}
	defer m.Close()

	util.StartStatsReporter(ctx)
	util.LogInfo("portal %s connecting to %s...", localID, remoteID)

	p, err := m.CreatePortal(ctx, remoteID, listenAddr)
	if err != nil {
		util.LogError("failed to create portal: %v", err)
		os.Exit(1)
	}

	util.LogSuccess("tunnel established — forwarding %s to %s", listenAddr, remoteID)

	<-ctx.Done()
	p.Close()
	util.LogInfo("portal shut down")
}

func resolveLocalID(localID string) string {
	if localID != "" {
		return localID
	}
	return uuid.NewString()
}
