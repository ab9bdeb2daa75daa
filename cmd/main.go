package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	"whiteboard-lab/contract"
	"whiteboard-lab/infrastructure/datagram"
	"whiteboard-lab/infrastructure/stream"
	"whiteboard-lab/internal"
	"whiteboard-lab/observability"
	"whiteboard-lab/runtime"
	"whiteboard-lab/runtime/workers"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the hub and blocks until SIGINT or SIGTERM.
// Deferred cleanups run before main exits.
func run() error {
	// 1. Configuration & Logger
	cfg, err := internal.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	// 2. Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(promRegistry)

	// 3. Supervision & Orchestration
	sup := workers.NewSupervisor(log, cfg.RestartInterval)
	registry := runtime.NewRegistry(runtime.WithAddressPruningOnLeave(cfg.PruneAddressesOnLeave))
	dispatcher := runtime.NewDispatcher(log, cfg.DeliveryTimeout, cfg.MaxInFlight)
	orchestrator := runtime.NewOrchestrator(log, sup, registry, dispatcher, metrics)

	// 4. Channels. Failing to bind either port is fatal.
	streamServer, err := stream.Listen(streamConfig(cfg), orchestrator, metrics, log)
	if err != nil {
		return err
	}
	datagramServer, err := datagram.Listen(datagramConfig(cfg), orchestrator, metrics, log)
	if err != nil {
		_ = streamServer.Close()
		return err
	}
	orchestrator.UseDatagramSender(datagramServer)

	supervised := []contract.Worker{
		streamServer,
		datagramServer,
		workers.NewHeartbeatWorker(log, registry, metrics, cfg.HeartbeatInterval),
	}
	if cfg.DebugPort > 0 {
		debugServer, err := internal.NewDebugServer(cfg.Host, cfg.DebugPort, registry, promRegistry, log)
		if err != nil {
			_ = streamServer.Close()
			_ = datagramServer.Close()
			return err
		}
		supervised = append(supervised, debugServer)
	}

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Whiteboard hub started",
		"stream_address", streamServer.Addr(),
		"datagram_address", datagramServer.Addr(),
		"at", time.Now().UTC())

	// 6. Run until a signal arrives, then close every connection
	orchestrator.Start(ctx, supervised...)
	log.Info("Program stopped cleanly")
	return nil
}
