// Gray Logic Core - KNXnet/IP gateway
//
// This is the main entry point for the gateway process: a KNXnet/IP
// server exposing discovery, tunnelling, and routing services over
// UDP to external clients (ETS, visualisation tools, tunnelling apps).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-core/internal/bus"
	"github.com/nerrad567/gray-logic-core/internal/cemi"
	"github.com/nerrad567/gray-logic-core/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-core/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-core/internal/knxnetip"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Print startup banner
	fmt.Printf("Gray Logic Core %s (%s) built %s\n", version, commit, date)
	fmt.Println("KNXnet/IP gateway")
	fmt.Println("---")

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
//
func run(ctx context.Context) error {
	fmt.Println("Starting Gray Logic Core...")

	configPath := os.Getenv("GRAYLOGIC_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.Logging, version)

	var knxipStop func()
	if cfg.Protocols.KNXIP.Enabled {
		knxipStop, err = startKNXIP(ctx, cfg.Protocols.KNXIP, logger)
		if err != nil {
			return fmt.Errorf("starting KNXnet/IP gateway: %w", err)
		}
	}

	fmt.Println("Initialisation complete. Waiting for shutdown signal...")

	<-ctx.Done()

	fmt.Println("\nShutdown signal received. Cleaning up...")

	if knxipStop != nil {
		knxipStop()
	}

	fmt.Println("Gray Logic Core stopped.")
	return nil
}

// startKNXIP builds and starts the KNXnet/IP gateway dispatcher from
// its configuration block. The bus router is a loopback FakeRouter
// until a real router implementation is wired into this platform (see
// DESIGN.md) — every other component of the gateway is real.
func startKNXIP(ctx context.Context, cfg config.KNXIPConfig, logger *logging.Logger) (stop func(), err error) {
	router := bus.NewFakeRouter(addressPool()...)

	group, err := net.ResolveUDPAddr("udp6", net.JoinHostPort(cfg.MulticastAddress, fmt.Sprintf("%d", cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolving multicast group: %w", err)
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("resolving interface %q: %w", cfg.Interface, err)
		}
	}

	bind, err := net.ResolveUDPAddr("udp6", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("resolving bind address: %w", err)
	}

	srvCfg := knxnetip.Config{
		Tunnel:         cfg.Tunnel != nil,
		Route:          cfg.Router != nil,
		Discover:       cfg.Discover,
		Name:           cfg.Name,
		Medium:         byte(cfg.Medium), //nolint:gosec // medium byte fits in 0-255
		Bind:           bind,
		MulticastGroup: group,
		Interface:      iface,
		MultiPort:      cfg.MultiPort,
	}

	srv, err := knxnetip.NewServer(srvCfg, router, logger)
	if err != nil {
		return nil, err
	}

	stop, err = srv.Start(ctx)
	if err != nil {
		return nil, err
	}

	logger.Info("KNXnet/IP gateway listening", "port", cfg.Port, "tunnel", srvCfg.Tunnel, "route", srvCfg.Route, "discover", srvCfg.Discover)
	return stop, nil
}

// addressPool is the individual-address range the fake bus router
// hands out to tunnel connections pending a real bus router.
func addressPool() []cemi.Address {
	pool := make([]cemi.Address, 0, 255)
	for i := 1; i <= 255; i++ {
		pool = append(pool, cemi.Address(i))
	}
	return pool
}
