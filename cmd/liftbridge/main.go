// Gray Logic Lift Bridge
//
// liftbridge connects a lift controller on a serial line to the rest of a
// Gray Logic site. It reads the controller's JSON status lines, keeps the
// merged device state, and serves it over HTTP and WebSocket. Floor commands
// arrive on GET /command (and on MQTT when enabled) and are written back to
// the controller as "GOTO:<floor>\n".
//
// Optional sinks: MQTT (state, commands, health), SQLite (state and command
// history) and InfluxDB (telemetry).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-lift/migrations"

	"github.com/nerrad567/gray-logic-lift/internal/api"
	"github.com/nerrad567/gray-logic-lift/internal/bridges/lift"
	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/mqtt"
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

// historyPruneInterval is how often rows older than the retention are removed.
const historyPruneInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, lift.OpenSerial); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// open dials the controller; main passes lift.OpenSerial.
//
// Returns nil on clean shutdown.
func run(ctx context.Context, open lift.OpenFunc) error {
	log := logging.Default()
	log.Info("starting Gray Logic Lift Bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	liftID := cfg.Serial.LiftID

	// State and command history (optional)
	var (
		db      *database.DB
		history *lift.History
	)
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database ready", "path", cfg.Database.Path)

		history = lift.NewHistory(db.DB, liftID)
		history.SetLogger(log.Component("history"))
	} else {
		log.Info("history database disabled")
	}

	// Telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// The serial link comes up before anything is served.
	channel, err := lift.Open(ctx, lift.ChannelConfig{
		Port:        cfg.Serial.Port,
		BaudRate:    cfg.Serial.BaudRate,
		ReadTimeout: cfg.Serial.ReadTimeout,
		RetryDelay:  cfg.Serial.RetryDelay,
		LiftID:      liftID,
	}, open, log.Component("serial"))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info("shutdown requested before serial link opened")
			return nil
		}
		return fmt.Errorf("opening serial link: %w", err)
	}
	defer func() {
		log.Info("closing serial link")
		if closeErr := channel.Close(); closeErr != nil {
			log.Error("error closing serial link", "error", closeErr)
		}
	}()

	store := lift.NewStore()
	lines := lift.NewLineAssembler(channel, lift.LineConfig{
		PollInterval:  cfg.Serial.PollInterval,
		MaxLineLength: cfg.Serial.MaxLineLength,
	})

	updater := lift.NewUpdater(lines, store, lift.UpdaterConfig{
		LiftID:     liftID,
		ErrorPause: cfg.Serial.ErrorPause,
	})
	updater.SetLogger(log.Component("updater"))
	updater.AddListener(lift.StateListenerFunc(lift.RecordStateGauges))

	gateway := lift.NewGateway(store, channel, lift.GatewayConfig{
		LiftID:     liftID,
		SerialPort: cfg.Serial.Port,
		HTTPPort:   cfg.API.Port,
	})
	gateway.SetLogger(log.Component("gateway"))

	if history != nil {
		updater.AddListener(history)
		gateway.AddCommandListener(history)
	}
	if influxClient != nil {
		telemetry := lift.NewTelemetry(influxClient)
		updater.AddListener(telemetry)
		gateway.AddCommandListener(telemetry)
	}

	health := lift.NewHealthReporter(lift.HealthReporterConfig{
		LiftID:   liftID,
		Version:  version,
		Interval: cfg.MQTT.HealthInterval,
		Channel:  channel,
		Updater:  updater,
		Gateway:  gateway,
	})
	health.SetLogger(log.Component("health"))

	// MQTT bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg.MQTT, health, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		health.SetPublisher(mqttClient)

		bridge, bridgeErr := lift.NewBridge(lift.BridgeOptions{
			LiftID:     liftID,
			MQTTClient: mqttClient,
			Gateway:    gateway,
			Health:     health,
			QoS:        byte(cfg.MQTT.QoS),
			Logger:     log.Component("mqtt-bridge"),
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		updater.AddListener(bridge)
		if startErr := bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer bridge.Stop()
	} else {
		log.Info("MQTT disabled")
	}

	// HTTP and WebSocket
	deps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Metrics: cfg.Metrics,
		Logger:  log.Component("api"),
		Gateway: gateway,
		Health:  health,
		Version: version,
	}
	if history != nil {
		deps.History = history
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if db != nil {
		deps.DB = db
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	updater.AddListener(server.Hub())

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", server.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return updater.Run(gctx)
	})
	if history != nil {
		g.Go(func() error {
			history.RunPruner(gctx, historyPruneInterval, cfg.Database.HistoryRetention)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("update loop: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. MQTT bridge, then the broker connection (if enabled)
	// 3. Serial link
	// 4. InfluxDB (if enabled)
	// 5. Database (if enabled)

	log.Info("Gray Logic Lift Bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LIFTBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LIFTBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens the history database and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// connectMQTT dials the broker with the health reporter's offline status as
// the Last Will.
func connectMQTT(cfg config.MQTTConfig, health *lift.HealthReporter, log *logging.Logger) (*mqtt.Client, error) {
	willPayload, err := health.GetLWTPayload()
	if err != nil {
		return nil, fmt.Errorf("building MQTT will: %w", err)
	}

	client, err := mqtt.Connect(cfg, &mqtt.Will{
		Topic:   health.GetLWTTopic(),
		Payload: willPayload,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		// The broker may have published the will while we were away.
		if pubErr := health.PublishNow(); pubErr != nil {
			log.Warn("republishing health after reconnect failed", "error", pubErr)
		}
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	return client, nil
}

// healthCheck verifies the optional infrastructure connections. Nil
// arguments are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
