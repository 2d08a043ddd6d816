// tuya-bridge - Tuya LAN to MQTT bridge
//
// This is the main entry point for the bridge. It connects to Tuya devices
// over the local network, publishes their datapoint state to an MQTT broker,
// and writes broker commands back to the devices. Designed for:
//   - Fully local operation (no Tuya cloud dependency)
//   - One long-lived session per device with automatic reconnect
//   - Retained state topics so consumers see current values immediately
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/tuya-bridge/internal/bridge"
	"github.com/nerrad567/tuya-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tuya-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tuya-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tuya-bridge/internal/tuya"
	"github.com/nerrad567/tuya-bridge/internal/tuya/protocol"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting tuya-bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Load device listing
	devices, err := tuya.LoadDevices(cfg.Tuya.DevicesFile)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	for _, d := range devices {
		log.Info("device loaded",
			"id", d.ID,
			"name", d.Name,
			"topic_name", d.TopicName,
			"address", d.Address,
			"datapoints", len(d.Datapoints),
		)
	}

	// Connect to MQTT broker with the offline marker as last-will, so
	// consumers learn about an unexpected bridge death from the broker.
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.Will{
		Topic:    bridge.WillTopic(cfg.MQTT.TopicPrefix),
		Payload:  "offline",
		QoS:      1,
		Retained: true,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"topic_prefix", cfg.MQTT.TopicPrefix,
	)

	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Verify the broker connection is healthy before starting sessions
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: mqtt: %w", err)
	}

	// Wire and start the bridge
	b, err := bridge.New(bridge.Options{
		TopicPrefix:  cfg.MQTT.TopicPrefix,
		QoS:          byte(cfg.MQTT.QoS),
		Devices:      devices,
		MQTT:         mqttClient,
		Dialer:       protocol.Dialer{},
		PollInterval: cfg.GetPollInterval(),
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal. Device sessions are abandoned on cancel;
	// state is re-derived from a full snapshot query on the next start.
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("tuya-bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TUYABRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TUYABRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
