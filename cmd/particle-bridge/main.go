package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/particle/internal/bridge"
	"github.com/joshp123/particle/internal/config"
	"github.com/joshp123/particle/internal/logging"
	"github.com/joshp123/particle/internal/oauth"
	"github.com/joshp123/particle/internal/rate"
	"github.com/joshp123/particle/internal/server"
	"github.com/joshp123/particle/plugins/particle"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "config file (default: search path)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging, "particle-bridge", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, tokens, err := particle.NewClientFromConfig(cfg, logger)
	if err != nil {
		logger.Error("init client", "error", err)
		os.Exit(1)
	}
	if manager, ok := tokens.(*oauth.Manager); ok && *cfg.OAuth.RefreshEnabled {
		manager.Start(ctx, time.Duration(cfg.OAuth.RefreshIntervalSeconds)*time.Second)
	}

	var publisher bridge.Publisher = bridge.NopPublisher{}
	if cfg.MQTTEnabled() {
		mqttPublisher, err := bridge.NewMQTTPublisher(cfg.MQTT, logger)
		if err != nil {
			logger.Error("connect mqtt", "host", cfg.MQTT.Host, "error", err)
			os.Exit(1)
		}
		publisher = mqttPublisher
	} else {
		logger.Warn("mqtt.host not set, device states are not published")
	}
	defer publisher.Close()

	b := bridge.New(client, publisher, bridge.Options{
		TopicPrefix: cfg.MQTT.TopicPrefix,
		Interval:    time.Duration(cfg.Bridge.PollIntervalSeconds) * time.Second,
		Logger:      logger,
	})

	registry := server.MetricsRegistry(
		particle.ClientCollectors(),
		rate.MetricsCollectors(),
		oauth.MetricsCollectors(),
		bridge.MetricsCollectors(),
		[]prometheus.Collector{
			particle.NewMetricsCollector(client),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name:        "particle_bridge_build_info",
				Help:        "Build information",
				ConstLabels: prometheus.Labels{"version": version},
			}, func() float64 { return 1 }),
		},
	)
	httpServer := server.NewHTTPServer(cfg.Bridge.HTTPAddr, server.NewMux(registry, func() any { return b.Status() }))

	go func() {
		logger.Info("http listening", "addr", cfg.Bridge.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	logger.Info("bridge started", "interval_seconds", cfg.Bridge.PollIntervalSeconds, "prefix", cfg.MQTT.TopicPrefix)
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bridge stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	logger.Info("bridge stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}
