package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/classmesh/classmedia/internal/capture"
	"github.com/classmesh/classmedia/internal/config"
	"github.com/classmesh/classmedia/internal/controller"
	"github.com/classmesh/classmedia/internal/netprobe"
	"github.com/classmesh/classmedia/internal/peer"
	"github.com/classmesh/classmedia/internal/roster"
	"github.com/classmesh/classmedia/internal/signal"
	"github.com/classmesh/classmedia/internal/stats"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	metricsAddr := flag.String("metrics-addr", ":9091", "listen address for the Prometheus endpoint")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := netprobe.Probe(cfg.ICE.Servers, logger); err != nil {
		logger.Warn("ice server probe failed, continuing anyway", zap.Error(err))
	}

	provider, err := capture.NewMediaDevicesProvider(logger)
	if err != nil {
		logger.Fatal("failed to initialize capture provider", zap.Error(err))
	}

	factory, err := peer.NewFactory(cfg.ICE.Servers, provider.CodecSelector(), logger)
	if err != nil {
		logger.Fatal("failed to initialize connection factory", zap.Error(err))
	}

	channel, err := signal.Dial(ctx, cfg.Signal.URL, cfg.Signal.WriteTimeout, cfg.Signal.PingInterval, logger)
	if err != nil {
		logger.Fatal("failed to connect to signaling server", zap.Error(err))
	}
	defer channel.Close()

	ctrl := controller.New(cfg, provider, factory, channel, roster.NewMemoryStore(), logger)

	if cfg.Stats.PrometheusEnabled {
		exporter := stats.NewExporter()
		ctrl.StatsExporter(exporter.Observe)
		go func() {
			logger.Info("metrics endpoint listening", zap.String("addr", *metricsAddr))
			if err := http.ListenAndServe(*metricsAddr, promhttp.Handler()); err != nil {
				logger.Warn("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	if err := ctrl.Initialize(ctx); err != nil {
		logger.Fatal("failed to initialize controller", zap.Error(err))
	}
	defer ctrl.Cleanup()

	runErr := make(chan error, 1)
	go func() {
		runErr <- channel.Run(ctx, ctrl.SignalHandler())
	}()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			logger.Error("signaling channel closed", zap.Error(err))
		}
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = lvl
	return zapCfg.Build()
}
