package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mrv96/onair-link/internal/bridge"
	"github.com/mrv96/onair-link/internal/config"
	"github.com/mrv96/onair-link/internal/logger"
	"github.com/mrv96/onair-link/internal/midi"
	"github.com/mrv96/onair-link/internal/prolink"
	"github.com/mrv96/onair-link/internal/telemetry"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v\n", err)
		os.Exit(1)
	}

	iface, err := prolink.FindIface(cfg.Network.Interface)
	if err != nil {
		log.With(logger.Fields{"module": "main"}).Errorf("network interface: %v", err)
		os.Exit(1)
	}

	listener, err := prolink.NewListener(log, iface, cfg.Bridge.DeviceName, cfg.Bridge.DeviceNumber, cfg.Network.LocalBroadcast)
	if err != nil {
		log.With(logger.Fields{"module": "main"}).Errorf("link sockets: %v", err)
		os.Exit(1)
	}
	defer listener.Close()

	registry := prolink.NewRegistry(log, prolink.DefaultLivenessTimeout)

	var bindings []bridge.Binding
	for _, ch := range cfg.Bridge.Channels {
		bindings = append(bindings, bridge.Binding{Channel: ch.Index, Player: ch.Player, FaderStart: ch.FaderStart})
	}

	var mirror *telemetry.Publisher
	if cfg.Telemetry.Enabled {
		mirror = telemetry.NewPublisher(log, cfg.Telemetry)
	}

	midiCh := make(chan midi.Event, 64)

	adapter, err := midi.NewAdapter(log, cfg.MIDI.PortMatch, cfg.MIDI.Profile, midiCh)
	if err != nil {
		log.With(logger.Fields{"module": "main"}).Errorf("MIDI driver: %v", err)
		os.Exit(1)
	}
	defer adapter.Close()

	if err = adapter.Connect(); err != nil {
		log.With(logger.Fields{"module": "main"}).Errorf("MIDI mixer: %v", err)
		os.Exit(1)
	}

	engine := bridge.NewEngine(log, adapter.Profile().Channels, cfg.Bridge.OnThreshold, cfg.Bridge.OffThreshold, bindings)
	b := bridge.New(log, cfg.Bridge.DeviceName, listener, registry, adapter, engine, mirror, midiCh)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if mirror != nil {
		if err = mirror.Start(ctx); err != nil {
			log.With(logger.Fields{"module": "main"}).Errorf("telemetry: %v", err)
			os.Exit(1)
		}
		defer mirror.Stop()
	}

	listener.Start(ctx, b.NetChannel())
	adapter.Start(ctx)

	if err = b.Run(ctx); err != nil {
		log.With(logger.Fields{"module": "main"}).Errorf("bridge stopped: %v", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}
