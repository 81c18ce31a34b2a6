package main

import (
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"zigbee-appd/internal/appdb"
	"zigbee-appd/internal/bridge"
	"zigbee-appd/internal/config"
	"zigbee-appd/internal/controller"
	"zigbee-appd/internal/ota"
	"zigbee-appd/internal/radio"
	"zigbee-appd/internal/web"
	"zigbee-appd/internal/zcl"
	"zigbee-appd/internal/zcl/clusters"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("zigbee-appd starting", "version", version)

	registry := zcl.NewRegistry(logger)
	clusters.RegisterAll(registry)
	logger.Info("cluster registry initialized", "clusters", len(registry.All()))

	store, err := appdb.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("open database", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	driver := cfg.Device.Driver
	if driver == "" {
		names := radio.Drivers()
		if len(names) != 1 {
			logger.Error("device.driver is required", "registered", names)
			os.Exit(1)
		}
		driver = names[0]
	}
	r, err := radio.Open(driver, radio.DeviceConfig{
		Path:        cfg.Device.Path,
		Baudrate:    cfg.Device.Baudrate,
		FlowControl: cfg.Device.FlowControl,
	}, logger)
	if err != nil {
		logger.Error("open radio", "err", err)
		os.Exit(1)
	}

	ctrl := controller.New(r, registry, store, controllerConfig(cfg), logger)

	engine := ota.NewEngine(buildProviders(cfg, logger), openImageCache(cfg, logger), logger)
	engine.Attach(ctrl)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := ctrl.Start(ctx, cfg.Startup.AutoForm); err != nil {
		cancel()
		logger.Error("start controller", "err", err)
		os.Exit(1)
	}
	cancel()
	ctrl.StartTopologyScanner()

	var mqttBridge *bridge.Bridge
	if cfg.MQTT.Enabled {
		mqttBridge, err = bridge.NewBridge(ctrl, bridge.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			logger.Error("mqtt bridge", "err", err)
			os.Exit(1)
		}
	}

	var webServer *web.Server
	if cfg.Web.Enabled {
		listen := cfg.Web.Listen
		if listen == "" {
			listen = ":8099"
		}
		webServer = web.NewServer(ctrl, listen, logger)
		webServer.Start()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if webServer != nil {
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("web shutdown", "err", err)
		}
	}
	if mqttBridge != nil {
		mqttBridge.Close()
	}
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		logger.Error("controller shutdown", "err", err)
	}
}

func controllerConfig(cfg *config.Config) controller.Config {
	out := controller.Config{
		SourceRouting: cfg.SourceRouting.Enabled,
		AutoForm:      cfg.Startup.AutoForm,
	}
	out.Network.Channel = cfg.Network.Channel
	out.Network.ChannelMask = cfg.Network.Channels
	out.Network.PanID = cfg.Network.PanID
	out.Network.NetworkKeySeq = cfg.Network.NetworkKeySeq
	out.Network.UpdateID = cfg.Network.UpdateID
	if ieee, err := controller.ParseIEEE(cfg.Network.ExtendedPanID); err == nil {
		out.Network.ExtendedPanID = ieee
	}
	if ieee, err := controller.ParseIEEE(cfg.Network.TCAddress); err == nil {
		out.Network.TCAddress = ieee
	}
	if key, err := hex.DecodeString(strings.ReplaceAll(cfg.Network.NetworkKey, ":", "")); err == nil && len(key) == 16 {
		copy(out.Network.NetworkKey[:], key)
	}
	if key, err := hex.DecodeString(strings.ReplaceAll(cfg.Network.TCLinkKey, ":", "")); err == nil && len(key) == 16 {
		copy(out.Network.TCLinkKey[:], key)
	}
	return out
}

func buildProviders(cfg *config.Config, logger *slog.Logger) []ota.Provider {
	var providers []ota.Provider
	if cfg.OTA.OTAUDirectory != "" {
		providers = append(providers, ota.NewLocalDir(cfg.OTA.OTAUDirectory, logger))
	}
	if cfg.OTA.IkeaProvider {
		providers = append(providers, ota.NewTradfri(logger))
	}
	if cfg.OTA.LedvanceProvider {
		providers = append(providers, ota.NewLedvance(logger))
	}
	if cfg.OTA.SonoffProvider {
		providers = append(providers, ota.NewSonoff(logger))
	}
	if cfg.OTA.InovelliProvider {
		providers = append(providers, ota.NewInovelli(logger))
	}
	if cfg.OTA.SalusProvider {
		providers = append(providers, ota.NewSalus(logger))
	}
	for _, url := range cfg.OTA.ExtraProviders {
		providers = append(providers, ota.NewRemoteIndex(url, logger))
	}
	return providers
}

func openImageCache(cfg *config.Config, logger *slog.Logger) *ota.ImageCache {
	path := filepath.Join(filepath.Dir(cfg.DatabasePath), "ota-images.db")
	cache, err := ota.OpenImageCache(path)
	if err != nil {
		logger.Warn("open ota image cache", "err", err)
		return nil
	}
	return cache
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Log.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
