// Gray Logic Access - keypad and RFID access controller
//
// This is the main entry point for the access controller. It validates PIN
// codes and RFID tags presented at keypads against registered users and their
// weekly schedules, answers over MQTT, and records every attempt.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // site timezones on hosts without zoneinfo

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/accesslog"
	"github.com/nerrad567/gray-logic-access/internal/api"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-access/internal/keypad"
	"github.com/nerrad567/gray-logic-access/internal/notify"
	"github.com/nerrad567/gray-logic-access/internal/snapshot"
	"github.com/nerrad567/gray-logic-access/migrations"
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

// shutdownTimeout bounds the final snapshot flush and notification drain.
const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Access",
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
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"timezone", cfg.Site.Timezone,
		"storage_backend", cfg.Storage.Backend,
	)

	// Database: access log, and the snapshot when the sqlite backend is used.
	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
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

	prom := metrics.New(cfg.Metrics.Namespace)

	// Users and schedules.
	store, err := openStore(ctx, cfg, db, prom, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := store.Close(closeCtx); closeErr != nil {
			log.Error("final snapshot save failed", "error", closeErr)
		}
	}()
	log.SetDebug(store.Settings().DebugLogging)

	policy, err := policyFrom(cfg.Access)
	if err != nil {
		return err
	}
	cipher := access.NewCipher()
	log.Info("credential cipher ready", "pbkdf2_iterations", cipher.Iterations())
	users := access.NewUserManager(store, access.NewUserValidator(policy, cipher), cipher)
	users.SetLogger(log.With("component", "users"))
	schedules := access.NewScheduleManager(store)
	schedules.SetLogger(log.With("component", "schedules"))

	var accessLog accesslog.Repository
	if cfg.Notifications.AccessLog {
		accessLog = accesslog.NewSQLiteRepository(db.DB)
	}

	// MQTT transport.
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
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Warn("MQTT disabled; keypads cannot reach the controller")
	}

	// InfluxDB (optional).
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Notifications leave the validation path through a bounded queue.
	queue := notify.NewQueue(buildSinks(cfg, mqttClient, influxClient, accessLog, prom, log),
		notify.DefaultQueueSize, log.With("component", "notify"))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := queue.Close(closeCtx); closeErr != nil {
			log.Warn("notifications dropped at shutdown", "error", closeErr)
		}
	}()

	engine := access.NewEngine(store, users, cipher,
		access.WithLocation(cfg.Location()),
		access.WithNotifier(queue),
		access.WithEngineLogger(log.With("component", "engine")),
	)

	if mqttClient != nil {
		bridge, err := startBridge(ctx, cfg, engine, users, schedules, store, mqttClient, accessLog, prom, log)
		if err != nil {
			return err
		}
		// Runs before the notification queue drains.
		defer func() {
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Warn("keypad bridge did not unsubscribe cleanly", "error", stopErr)
			}
		}()
	}

	// Ops HTTP endpoint.
	if cfg.Metrics.Enabled {
		checks := map[string]api.HealthChecker{"database": db}
		if mqttClient != nil {
			checks["mqtt"] = mqttClient
		}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}
		deps := api.Deps{
			Config:    cfg.Metrics,
			Logger:    log.With("component", "api"),
			Store:     store,
			Version:   version,
			AccessLog: accessLog,
			Location:  cfg.Location(),
			Checks:    checks,
			DB:        db.DB,
			Metrics:   prom.Handler(),
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating ops server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting ops server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing ops server", "error", closeErr)
			}
		}()
	}

	go maintain(ctx, store, accessLog, cfg.Retention(), prom, log)

	log.Info("Gray Logic Access ready", "users", store.Stats().TotalUsers)
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// getConfigPath returns the config file path from GRAYLOGIC_ACCESS_CONFIG,
// or the default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_ACCESS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openStore selects the snapshot backend and loads the store from it.
func openStore(ctx context.Context, cfg *config.Config, db *database.DB, prom *metrics.Prom, log *logging.Logger) (*access.Store, error) {
	var persistence access.Persistence
	switch cfg.Storage.Backend {
	case config.StorageBackendSQLite:
		persistence = snapshot.NewSQLiteStore(db.DB)
	default:
		persistence = snapshot.NewFileStore(cfg.Storage.Path)
	}

	store := access.NewStore(persistence,
		access.WithSaveDelay(cfg.SaveDelay()),
		access.WithStoreLogger(log.With("component", "store")),
		access.WithFlushErrorHandler(func(err error) {
			prom.ObserveFlush(err)
			log.Error("snapshot save failed; changes are held in memory", "error", err)
		}),
	)
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading access snapshot: %w", err)
	}

	stats := store.Stats()
	log.Info("access snapshot loaded",
		"backend", cfg.Storage.Backend,
		"users", stats.TotalUsers,
		"schedules", stats.Schedules,
	)
	return store, nil
}

// policyFrom converts the access section into a validation policy.
func policyFrom(cfg config.AccessConfig) (access.Policy, error) {
	policy := access.Policy{
		MinNameLength: cfg.Name.MinLength,
		MaxNameLength: cfg.Name.MaxLength,
		MinCodeLength: cfg.Code.MinLength,
		MaxCodeLength: cfg.Code.MaxLength,
		Tag: access.TagPolicy{
			Format:    access.TagFormat(cfg.Tag.Format),
			Min:       cfg.Tag.Min,
			Max:       cfg.Tag.Max,
			MaxLength: cfg.Tag.MaxLength,
		},
	}
	if err := policy.Check(); err != nil {
		return access.Policy{}, fmt.Errorf("access policy: %w", err)
	}
	return policy, nil
}

// buildSinks assembles the notification fan-out for the enabled outputs.
func buildSinks(
	cfg *config.Config,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	accessLog accesslog.Repository,
	prom *metrics.Prom,
	log *logging.Logger,
) notify.Fanout {
	sinks := notify.Fanout{&notify.Metrics{Observer: prom}}
	if mqttClient != nil {
		sinks = append(sinks, &notify.MQTT{
			Publisher:          mqttClient,
			IncludeCredentials: cfg.Notifications.IncludeCredentials,
			Logger:             log,
		})
	}
	if accessLog != nil {
		sinks = append(sinks, &notify.AccessLog{Repo: accessLog, Logger: log})
	}
	if influxClient != nil {
		sinks = append(sinks, &notify.Influx{Writer: influxClient})
	}
	return sinks
}

// startBridge subscribes the keypad bridge. The caller stops it.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	engine *access.Engine,
	users *access.UserManager,
	schedules *access.ScheduleManager,
	store *access.Store,
	mqttClient *mqtt.Client,
	accessLog accesslog.Repository,
	prom *metrics.Prom,
	log *logging.Logger,
) (*keypad.Bridge, error) {
	opts := []keypad.Option{
		keypad.WithLogger(log.With("component", "keypad")),
		keypad.WithObserver(prom),
		keypad.WithLocation(cfg.Location()),
		keypad.WithSettingsHook(func(s access.Settings) { log.SetDebug(s.DebugLogging) }),
	}
	if cfg.Access.RateLimit.Enabled {
		opts = append(opts, keypad.WithRateLimit(cfg.Access.RateLimit.PerMinute, cfg.Access.RateLimit.Burst))
	}
	if accessLog != nil {
		opts = append(opts, keypad.WithAccessLog(accessLog))
	}

	bridge, err := keypad.New(keypad.Deps{
		Engine:    engine,
		Users:     users,
		Schedules: schedules,
		Store:     store,
		Transport: mqttClient,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating keypad bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting keypad bridge: %w", err)
	}
	return bridge, nil
}
