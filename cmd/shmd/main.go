// Command shmd is the structural-health monitoring service: it loads
// the persisted JSON configuration, wires a Manager over the
// configured devices, wind sensor, storage service, and IoT
// publisher, and runs until interrupted.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/towerwatch/shm/internal/config"
	"github.com/towerwatch/shm/internal/daq"
)

func main() {
	configFile := pflag.StringP("config-file", "c", "shm.conf.json", "Configuration file name.")
	logLevel := pflag.StringP("log-level", "l", "info", "Log level: debug, info, warn, error.")
	usePortAudio := pflag.BoolP("portaudio", "p", false, "Use PortAudio acquisition hardware instead of the simulated source.")
	pflag.Parse()

	logger := log.New(os.Stderr)
	if lvl, err := log.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("failed to load configuration", "path", *configFile, "err", err)
	}

	source := simSourceFactory
	if *usePortAudio {
		source = portAudioSourceFactory
	}

	manager, err := daq.NewManager(cfg, source, logger)
	if err != nil {
		logger.Fatal("failed to build device manager", "err", err)
	}

	if err := manager.Start(); err != nil {
		logger.Fatal("failed to start device manager", "err", err)
	}
	logger.Info("shmd started", "devices", manager.DeviceNames())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	manager.Stop(5 * time.Second)
}

func simSourceFactory(name string, devCfg config.DeviceConfig) daq.SampleSource {
	return daq.NewSimSource(5.0)
}

func portAudioSourceFactory(name string, devCfg config.DeviceConfig) daq.SampleSource {
	return daq.NewPortAudioSource(-1)
}
