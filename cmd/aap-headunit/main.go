package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/aap-headunit/internal/aap/engine"
	"github.com/alxayo/aap-headunit/internal/aap/events"
	"github.com/alxayo/aap-headunit/internal/logger"
)

func main() {
	cliCfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// The flag set uses ContinueOnError, and parseFlags' own validation
		// errors are plain returns, so report the error here.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cliCfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cliCfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cliCfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	var overlay []byte
	if cliCfg.overlayFile != "" {
		overlay, err = os.ReadFile(cliCfg.overlayFile)
		if err != nil {
			log.Error("failed to read overlay file", "path", cliCfg.overlayFile, "error", err)
			os.Exit(1)
		}
	}

	cfg, err := cliCfg.toConfig(overlay)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cliCfg.certFile != "" {
		pair, err := tls.LoadX509KeyPair(cliCfg.certFile, cliCfg.keyFile)
		if err != nil {
			log.Error("failed to load pinned certificate", "error", err)
			os.Exit(1)
		}
		cfg.PinnedCertificateChain = pair.Certificate
		cfg.PinnedPrivateKey = pair.PrivateKey
	}

	// No host hardware integration from the bare CLI: every ports.* sink is
	// left nil, which the Engine documents as turning the corresponding
	// channel handler into a no-op. An embedding application wires HostPorts
	// itself and calls engine.New directly instead of going through main().
	eng, err := engine.New(cfg, engine.HostPorts{}, log)
	if err != nil {
		log.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	eng.Events().Subscribe(func(ev events.Event) {
		switch ev.Kind {
		case events.KindConnected:
			log.Info("event: connected")
		case events.KindDisconnected:
			log.Info("event: disconnected", "reason", ev.Reason)
		case events.KindStats:
			log.Debug("event: stats", "framing_resync_drops", ev.Stats.FramingResyncDrops,
				"decoder_queue_drops", ev.Stats.DecoderQueueDrops, "missed_pongs", ev.Stats.MissedPongs)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Connect(ctx); err != nil {
		log.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	log.Info("session connected", "transport", cliCfg.transportKind, "version", version)

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		eng.Disconnect()
		close(done)
	}()

	select {
	case <-done:
		log.Info("session disconnected cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after shutdown timeout")
	}
}
