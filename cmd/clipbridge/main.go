// clip-bridge connects clip appliances to a Home Assistant style MQTT hub.
//
// Appliances talk a binary register protocol over a device broker; the
// bridge provisions them, decodes their register reports into hub entity
// state and turns hub set requests back into register writes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/clip-bridge/internal/bridges/clip"
	_ "github.com/nerrad567/clip-bridge/internal/bridges/clip/models"
	"github.com/nerrad567/clip-bridge/internal/infrastructure/config"
	"github.com/nerrad567/clip-bridge/internal/infrastructure/database"
	"github.com/nerrad567/clip-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/clip-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/clip-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/clip-bridge/internal/provisioning"
	"github.com/nerrad567/clip-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting clip-bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Nothing left to log to
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)
	log.Debug("effective configuration", "config", cfg.String())

	// Database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	// InfluxDB (optional)
	influxClient, err := connectInflux(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	var telemetry clip.Telemetry
	if influxClient != nil {
		telemetry = influxClient
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	topics := clip.Topics{
		PonderPrefix:      cfg.Hub.PonderPrefix,
		DiscoveryPrefix:   cfg.Hub.DiscoveryPrefix,
		DeviceTopicPrefix: cfg.Clip.DeviceTopicPrefix,
	}

	// Brokers. Only the hub side carries the bridge availability topic.
	hub, err := connectMQTT("hub", cfg.Hub.MQTTConfig, mqtt.NewStatus(topics.Availability()), log)
	if err != nil {
		return err
	}
	defer closeMQTT("hub", hub, log)

	devices, err := connectMQTT("devices", cfg.Devices, mqtt.Status{}, log)
	if err != nil {
		return err
	}
	defer closeMQTT("devices", devices, log)

	// Protocol engine
	manager, err := clip.NewManager(clip.ManagerOptions{
		Topics:         topics,
		Device:         devices,
		Hub:            hub,
		DeviceQoS:      devices.QoS(),
		HubQoS:         hub.QoS(),
		DeployInterval: cfg.Clip.DeployInterval,
		VerifyChecksum: cfg.Clip.VerifyChecksum,
		Store:          provisioning.NewSQLiteRepository(db.DB),
		Telemetry:      telemetry,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}

	if restoreErr := manager.Restore(ctx); restoreErr != nil {
		log.Warn("restoring provisioned devices", "error", restoreErr)
	}

	dispatcher := clip.NewDispatcher(cfg.Clip.Shards, cfg.Clip.QueueSize, manager.LogError)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })

	if err := devices.SubscribeAll(topics.DeviceSubscriptions(), devices.QoS(),
		route(gctx, dispatcher, topics, manager.HandleDeviceMessage)); err != nil {
		return fmt.Errorf("subscribing to device topics: %w", err)
	}
	if err := hub.SubscribeAll([]string{topics.HubStatus(), topics.SetSubscription()}, hub.QoS(),
		route(gctx, dispatcher, topics, manager.HandleHubMessage)); err != nil {
		return fmt.Errorf("subscribing to hub topics: %w", err)
	}
	log.Info("bridge subscribed",
		"devices", manager.DeviceCount(),
		"shards", dispatcher.Shards(),
	)

	if cfg.Clip.StateRefresh != "" {
		refresher, refreshErr := clip.NewRefresher(cfg.Clip.StateRefresh, manager.RefreshAll, log)
		if refreshErr != nil {
			return refreshErr
		}
		refresher.Start()
		defer refresher.Stop()
		log.Info("state refresh scheduled", "spec", cfg.Clip.StateRefresh)
	}

	health := clip.NewHealthReporter(clip.HealthReporterConfig{
		Version:    version,
		Topic:      topics.Health(),
		Interval:   cfg.HealthInterval(),
		Publisher:  hub,
		DeviceLink: devices,
		Stats:      manager.Stats,
		Subscriptions: func() int {
			return hub.SubscriptionCount() + devices.SubscriptionCount()
		},
	})
	health.SetLogger(log)
	health.Start(gctx)
	defer health.Stop()

	if err := healthCheck(ctx, db, hub, devices, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("dispatcher: %w", err)
	}

	// Deferred calls run in reverse order: health, refresher, device
	// broker, hub broker (publishing offline), InfluxDB, database.
	log.Info("clip-bridge stopped")
	return nil
}

// handlerFunc is the shape of the manager's message entry points.
type handlerFunc func(ctx context.Context, topic string, payload []byte) error

// route returns an MQTT handler that queues each message on the
// dispatcher shard of the device it concerns, so one device's messages
// are handled in order without blocking other devices.
func route(ctx context.Context, d *clip.Dispatcher, topics clip.Topics, handle handlerFunc) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		return d.Submit(ctx, topics.DeviceKey(topic), func() error {
			if err := handle(ctx, topic, payload); err != nil {
				return fmt.Errorf("%s: %w", topic, err)
			}
			return nil
		})
	}
}

// getConfigPath returns the configuration file path.
// Uses CLIPBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CLIPBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func connectMQTT(name string, cfg config.MQTTConfig, status mqtt.Status, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg, status)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s MQTT: %w", name, err)
	}

	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected", "broker", name)
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "broker", name, "error", err)
	})

	log.Info("MQTT connected",
		"broker", name,
		"address", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", client.ClientID(),
	)
	return client, nil
}

func closeMQTT(name string, client *mqtt.Client, log *logging.Logger) {
	log.Info("disconnecting from MQTT", "broker", name)
	if err := client.Close(); err != nil {
		log.Error("error closing MQTT", "broker", name, "error", err)
	}
}

// connectInflux returns nil without error when InfluxDB is disabled.
func connectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// healthCheck verifies every infrastructure connection once at startup.
func healthCheck(ctx context.Context, db *database.DB, hub, devices *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := hub.HealthCheck(ctx); err != nil {
		return fmt.Errorf("hub mqtt: %w", err)
	}
	if err := devices.HealthCheck(ctx); err != nil {
		return fmt.Errorf("devices mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
