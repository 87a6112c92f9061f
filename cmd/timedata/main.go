// Gray Logic Timedata - telemetry persistence service
//
// This is the main entry point for the Gray Logic Timedata service.
// It stores device telemetry in InfluxDB and answers historic queries:
//   - Samples arrive over MQTT or the REST API
//   - Values are coerced into InfluxDB field types, learning from type conflicts
//   - Learned overrides are journaled in SQLite and announced over MQTT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-timedata/internal/api"
	"github.com/nerrad567/gray-logic-timedata/internal/audit"
	"github.com/nerrad567/gray-logic-timedata/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-timedata/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-timedata/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-timedata/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-timedata/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-timedata/internal/timedata"
	"github.com/nerrad567/gray-logic-timedata/migrations"
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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Timedata",
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

	// Open database (conflict journal)
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	journal := audit.NewConflictJournal(audit.NewSQLiteRepository(db.DB))

	// Connect to InfluxDB
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	defer func() {
		log.Info("closing InfluxDB connection")
		if closeErr := influxClient.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
	}()
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
		"read_only", cfg.InfluxDB.ReadOnly,
	)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled, samples accepted over the API only")
	}

	// Timedata service
	svc, err := newService(cfg, influxClient, journal, mqttClient, log)
	if err != nil {
		return fmt.Errorf("creating timedata service: %w", err)
	}
	influxClient.SetOnWriteFailure(func(f influxdb.WriteFailure) {
		svc.HandleWriteFailure(toWriteFailure(f))
	})

	if mqttClient != nil {
		qos := byte(cfg.MQTT.QoS) //nolint:gosec // Validated 0-2 by config
		if subErr := mqttClient.SubscribeDevices(cfg.Timedata.IngestTopic, qos, svc.Ingest); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", cfg.Timedata.IngestTopic, subErr)
		}
		log.Info("sample ingest subscribed", "topic", cfg.Timedata.IngestTopic)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Start HTTP API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.With("component", "api"),
			Service:  svc,
			Journal:  journal,
			Health:   healthCheckers(db, mqttClient, influxClient),
			Location: cfg.Location(),
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up",
		"learned_overrides", svc.Registry().Len(),
	)

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. MQTT (no new samples)
	// 3. InfluxDB (flushes pending points; failures still reach the service)
	// 4. Database (conflict journal)

	return nil
}

// newService wires the timedata service to its backends.
func newService(cfg *config.Config, influxClient *influxdb.Client, journal timedata.ConflictJournal, mqttClient *mqtt.Client, log *logging.Logger) (*timedata.Service, error) {
	deps := timedata.Deps{
		Config: timedata.Config{
			Bucket:       cfg.InfluxDB.Bucket,
			Measurement:  cfg.Timedata.Measurement,
			DeviceTag:    cfg.Timedata.DeviceTag,
			ReadOnly:     cfg.InfluxDB.ReadOnly,
			QueryTimeout: cfg.GetQueryTimeout(),
		},
		Writer:  influxClient,
		Querier: &influxQuerier{client: influxClient},
		Journal: journal,
		Logger:  log.With("component", "timedata"),
	}
	if mqttClient != nil {
		deps.Publisher = &mqttConflictPublisher{client: mqttClient}
	}
	return timedata.NewService(deps)
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	for name, checker := range healthCheckers(db, mqttClient, influxClient) {
		if err := checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// healthCheckers lists the backends reported on /health.
func healthCheckers(db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) map[string]api.HealthChecker {
	checkers := map[string]api.HealthChecker{
		"database": db,
		"influxdb": influxClient,
	}
	if mqttClient != nil {
		checkers["mqtt"] = mqttClient
	}
	return checkers
}
