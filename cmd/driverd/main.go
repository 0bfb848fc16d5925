// driverd runs device drivers for a home automation platform.
//
// Each configured driver instance owns one serial or TCP link to a device
// (a Z-Wave controller, an IR receiver) and exposes the device as a set of
// typed fields. Field values are published over MQTT and the HTTP API;
// triggers raised by drivers are recorded in SQLite and published over MQTT.
//
// Usage:
//
//	driverd                                  run the daemon
//	driverd token -subject NAME -role ROLE   print a signed API token
//
// The config file is DRIVERD_CONFIG, default configs/driverd.yaml.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/api"
	"github.com/nerrad567/gray-logic-drivers/internal/driver"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-drivers/internal/irrecv"
	"github.com/nerrad567/gray-logic-drivers/internal/trigger"
	"github.com/nerrad567/gray-logic-drivers/internal/zwave"
	"github.com/nerrad567/gray-logic-drivers/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/driverd.yaml"

	// triggerFlushTimeout bounds how long shutdown waits for queued triggers.
	triggerFlushTimeout = 5 * time.Second
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runToken(os.Args[2:], os.Stdout, os.Stderr))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the process body, separated from main for testability. Resources
// are released by deferred calls in reverse order of creation.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting driverd",
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
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(database.Config{
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

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT", "connects", mqttClient.Stats().Connects)
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			st := influxClient.Stats()
			log.Info("closing InfluxDB connection", "points", st.Points, "write_errors", st.Errors)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	recorder := trigger.NewSQLiteRecorder(db.DB)
	dispatcher := trigger.NewDispatcher(log.Component("trigger"), recorder)
	if mqttClient != nil {
		dispatcher.AddSink(trigger.NewMQTTSink(mqttClient, mqttClient.Topics(), mqttClient.QoS()))
	}
	dispatcher.Start()
	defer func() {
		if flushErr := dispatcher.Flush(context.Background(), triggerFlushTimeout); flushErr != nil {
			log.Warn("trigger flush incomplete", "error", flushErr)
		}
		dispatcher.Stop()
	}()

	manager := driver.NewManager(driver.ManagerOptions{
		Repository: driver.NewSQLiteConfigRepository(db.DB),
		Triggers:   dispatcher,
		Logger:     log.Component("driver"),
	})
	manager.RegisterKind(zwave.Kind, zwave.New)
	manager.RegisterKind(irrecv.Kind, irrecv.New)
	defer stopManager(manager, cfg.GetTerminateTimeout(), log)

	pub := newPublisher(manager, log)
	if mqttClient != nil {
		pub.mqtt = mqttClient
		pub.topics = mqttClient.Topics()
		pub.qos = mqttClient.QoS()
	}
	if influxClient != nil {
		pub.influx = influxClient
	}
	manager.OnFieldChange(pub.FieldChanged)
	manager.OnStateChange(pub.StateChanged)
	if mqttClient != nil {
		if subErr := mqttClient.Subscribe(pub.topics.AllCommands(), pub.qos, pub.HandleCommand); subErr != nil {
			return fmt.Errorf("subscribing to commands: %w", subErr)
		}
	}

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.Component("api"),
			Drivers:  manager,
			Triggers: recorder,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		manager.OnFieldChange(srv.FieldChanged)
		manager.OnStateChange(srv.StateChanged)
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if loadErr := loadInstances(ctx, cfg.Drivers, manager); loadErr != nil {
		// Instances that failed stay out; the rest run.
		log.Error("some driver instances failed to start", "error", loadErr)
	}
	log.Info("driver instances started", "count", len(manager.Monikers()))

	if cfg.Drivers.File != "" && cfg.Drivers.Watch {
		watcher, watchErr := driver.NewWatcher(cfg.Drivers.File, manager, log.Component("watcher"))
		if watchErr != nil {
			return fmt.Errorf("watching driver definitions: %w", watchErr)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DRIVERD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DRIVERD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadInstances starts the configured instances. A definitions file is
// authoritative; without one the instances stored in the database are used.
func loadInstances(ctx context.Context, cfg config.DriversConfig, m *driver.Manager) error {
	if cfg.File == "" {
		return m.LoadPersisted(ctx)
	}
	cfgs, err := driver.LoadDefinitions(cfg.File)
	if err != nil {
		return fmt.Errorf("loading %s: %w", cfg.File, err)
	}
	return m.Apply(ctx, cfgs)
}

// stopManager terminates every instance, giving up after timeout.
func stopManager(m *driver.Manager, timeout time.Duration, log *logging.Logger) {
	log.Info("stopping driver instances")
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("driver instances did not stop in time", "timeout", timeout)
	}
}

// healthCheck verifies the infrastructure connections. Clients that are
// disabled are nil and skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	var errs []error
	if err := db.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	return errors.Join(errs...)
}
