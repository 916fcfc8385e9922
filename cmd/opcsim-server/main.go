// Command opcsim-server runs the instrument simulator: a multimeter, a
// machine and a computer published in an address space that clients
// browse, read and write over TCP.
//
// Usage:
//
//	opcsim-server [flags]
//
// Flags:
//
//	-config string        YAML configuration file
//	-address string       Listen address (default ":4840")
//	-cycle duration       Service loop period (default 330ms)
//	-seed uint            Random seed, 0 for a random one
//	-state-file string    Persist client-written set-points here
//	-protocol-log string  Write a CBOR protocol capture to this file
//	-metrics string       Serve Prometheus metrics on this address
//	-advertise            Announce the server over mDNS
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Flags override values from the configuration file.
//
// Examples:
//
//	# Default instruments on port 4840
//	opcsim-server
//
//	# Reproducible readings with metrics
//	opcsim-server -seed 42 -metrics :9090 -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mash-protocol/opcsim-go/pkg/discovery"
	protolog "github.com/mash-protocol/opcsim-go/pkg/log"
	"github.com/mash-protocol/opcsim-go/pkg/metrics"
	"github.com/mash-protocol/opcsim-go/pkg/service"
)

var (
	configFile     = flag.String("config", "", "YAML configuration file")
	address        = flag.String("address", ":4840", "Listen address")
	cycle          = flag.Duration("cycle", service.DefaultCycle, "Service loop period")
	seed           = flag.Uint64("seed", 0, "Random seed (0 = random)")
	stateFile      = flag.String("state-file", "", "Persist client-written set-points to this file")
	protocolLog    = flag.String("protocol-log", "", "Write a CBOR protocol capture to this file")
	metricsAddress = flag.String("metrics", "", "Serve Prometheus metrics on this address")
	advertise      = flag.Bool("advertise", false, "Announce the server over mDNS")
	logLevel       = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	level, err := service.ParseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	config.Logger = logger

	// Protocol events go to the capture file and, at debug level, to
	// the console.
	var loggers []protolog.Logger
	if config.ProtocolLog != "" {
		fileLogger, err := protolog.NewFileLogger(config.ProtocolLog)
		if err != nil {
			return fmt.Errorf("failed to create protocol logger: %w", err)
		}
		defer fileLogger.Close()
		loggers = append(loggers, fileLogger)
		logger.Info("protocol logging", "path", config.ProtocolLog)
	}
	if level <= slog.LevelDebug {
		loggers = append(loggers, protolog.NewSlogAdapter(logger))
	}
	if len(loggers) > 0 {
		config.ProtocolLogger = protolog.NewMultiLogger(loggers...)
	}

	var metricsServer *metrics.Server
	if config.MetricsAddress != "" {
		config.Metrics = metrics.New(true)
		metricsServer = metrics.NewServer(config.MetricsAddress, config.Metrics)
		if err := metricsServer.Start(); err != nil {
			return err
		}
		defer metricsServer.Stop()
		logger.Info("serving metrics", "address", metricsServer.Addr().String())
	}

	if config.Advertise {
		config.Advertiser = discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
	}

	srv, err := service.NewServer(config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Initialize(ctx); err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return errors.Join(err, srv.Stop())
	}

	// A signal or a failing metrics endpoint stops the service loop;
	// the loop exiting stops the metrics endpoint.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	if metricsServer != nil {
		g.Go(func() error {
			return metricsServer.Serve(gctx)
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			logger.Info("shutdown requested")
			srv.RequestStop()
			<-srv.Done()
		case <-srv.Done():
			cancel()
		}
		return nil
	})
	runErr := g.Wait()
	if runErr != nil {
		logger.Error("metrics endpoint failed", "error", runErr)
	}

	start := time.Now()
	if err := srv.Stop(); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	logger.Info("server stopped", "ticks", srv.Ticks(), "shutdown", time.Since(start))
	return runErr
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set explicitly.
func loadConfig() (service.ServerConfig, error) {
	config := service.DefaultServerConfig()
	if *configFile != "" {
		var err error
		if config, err = service.LoadConfig(*configFile); err != nil {
			return config, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "address":
			config.Address = *address
		case "cycle":
			config.Cycle = *cycle
		case "seed":
			config.Seed = *seed
		case "state-file":
			config.StateFile = *stateFile
		case "protocol-log":
			config.ProtocolLog = *protocolLog
		case "metrics":
			config.MetricsAddress = *metricsAddress
		case "advertise":
			config.Advertise = *advertise
		case "log-level":
			config.LogLevel = *logLevel
		}
	})
	return config, config.Validate()
}
