// Proxy — CLI entry point for the callee side of a tunnelmesh session.
//
// A proxy answers offers announced over MQTT signaling and, for every
// WebRTC DataChannel a caller subsequently opens, dials a fixed local
// address and bridges the two.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-local, -target, -broker).
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
	targetAddr := flag.String("target", "", "Local address dialed for every accepted channel (host:port, or unix:///path)")
	broker := flag.String("broker", "", "MQTT broker URL (e.g. tcp://localhost:1883)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("tunnelmesh proxy — v%s", version))
	pterm.Println()

	if *targetAddr == "" {
		runInteractive(ctx, *localID, *broker)
		return
	}

	run(ctx, resolveLocalID(*localID), *targetAddr, *broker)
}

func runInteractive(ctx context.Context, localID, broker string) {
	if localID == "" {
		localID = resolveLocalID("")
	}

	targetAddr, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Local address to forward into (host:port, or unix:///path)").
		Show()
	targetAddr = strings.TrimSpace(targetAddr)

	pterm.Println()
	run(ctx, localID, targetAddr, broker)
}

func run(ctx context.Context, localID, targetAddr, broker string) {
	mqttCfg := config.DefaultMQTTConfig()
	if broker != "" {
		mqttCfg.BrokerURL = broker
	}

	m, err := manager.NewProxyManager(ctx, localID, targetAddr, mqttCfg, config.DefaultPeerConfig())
	if err != nil {
		util.LogError("failed to start proxy manager: %v", err)
		os.Exit(1)
	}
	defer m.Close()

	util.StartStatsReporter(ctx)
	util.LogSuccess("proxy %s ready — forwarding accepted channels to %s", localID, targetAddr)

	<-ctx.Done()
	util.LogInfo("proxy shut down, %d session(s) still tracked", m.ConnectionCount())
}

func resolveLocalID(localID string) string {
	if localID != "" {
		return localID
	}
	return uuid.NewString()
}
