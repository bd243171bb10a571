// Hearth Core - Home Automation Platform
//
// This is the main entry point for the Hearth Core daemon. Hearth Core
// is a local-first home automation platform built around:
//   - An entity/state model with a central registry
//   - Config entries for integration instances with retrying setup
//   - A service registry for validated commands
//   - A REST + WebSocket API for dashboards and machine clients
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/hearthd/hearth-core/migrations"

	"github.com/hearthd/hearth-core/internal/api"
	"github.com/hearthd/hearth-core/internal/area"
	"github.com/hearthd/hearth-core/internal/auth"
	"github.com/hearthd/hearth-core/internal/bus"
	"github.com/hearthd/hearth-core/internal/configentry"
	"github.com/hearthd/hearth-core/internal/domains/alarm"
	"github.com/hearthd/hearth-core/internal/domains/climate"
	"github.com/hearthd/hearth-core/internal/domains/humidifier"
	"github.com/hearthd/hearth-core/internal/domains/update"
	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/export/influx"
	promexport "github.com/hearthd/hearth-core/internal/export/prometheus"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
	"github.com/hearthd/hearth-core/internal/infrastructure/database"
	"github.com/hearthd/hearth-core/internal/infrastructure/influxdb"
	"github.com/hearthd/hearth-core/internal/infrastructure/logging"
	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthd/hearth-core/internal/integrations/esphome"
	"github.com/hearthd/hearth-core/internal/integrations/hardware"
	"github.com/hearthd/hearth-core/internal/integrations/hygrostat"
	"github.com/hearthd/hearth-core/internal/integrations/olarm"
	"github.com/hearthd/hearth-core/internal/integrations/vaillant"
	"github.com/hearthd/hearth-core/internal/logbook"
	"github.com/hearthd/hearth-core/internal/service"
	"github.com/hearthd/hearth-core/internal/webrtc"
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

// pruneInterval is how often state history and logbook retention are
// enforced.
const pruneInterval = 6 * time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // composition root: wires every subsystem once
	log := logging.Default()
	log.Info("starting Hearth Core",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and run migrations
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Core registries share one event bus
	events := bus.New()

	entities := entity.NewRegistry(entity.NewSQLiteRepository(db.DB), events)
	entities.SetLogger(log)
	if refreshErr := entities.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading entity registry: %w", refreshErr)
	}
	log.Info("entity registry initialised", "entities", entities.Count())

	services := service.NewRegistry(events)
	services.SetLogger(log)

	areas := area.NewRegistry(area.NewSQLiteRepository(db.DB))

	entries := configentry.NewManager(configentry.NewSQLiteRepository(db.DB), events, nil)
	entries.SetLogger(log)
	entries.SetRemoveHook(entities.RemoveByEntry)
	defer entries.Stop()

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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB and export state changes (optional)
	var influxClient *influxdb.Client
	var exporter *influx.Exporter
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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

		exporter = influx.NewExporter(influxClient, cfg.InfluxDB)
		exporter.SetLogger(log)
		exporter.Start(events)
		defer exporter.Stop()
	} else {
		log.Info("InfluxDB disabled")
	}

	// State history recorder (optional)
	var history *entity.Recorder
	if cfg.Recorder.Enabled {
		retention := time.Duration(cfg.Recorder.RetentionDays) * 24 * time.Hour
		history = entity.NewRecorder(db.DB, retention)
		history.SetLogger(log)
		history.Start(events)
		defer history.Stop()
		log.Info("state history recorder started", "retention_days", cfg.Recorder.RetentionDays)
	}

	// Logbook
	logbookRepo := logbook.NewSQLiteRepository(db.DB)
	logbookRecorder := logbook.NewRecorder(logbookRepo)
	logbookRecorder.SetLogger(log)
	logbookRecorder.Start(events)
	defer logbookRecorder.Stop()

	// Domain service surfaces
	humidifierDomain := humidifier.NewDomain()
	climateDomain := climate.NewDomain()
	alarmDomain := alarm.NewDomain()
	updateDomain := update.NewDomain()
	for _, register := range []func(*service.Registry) error{
		humidifierDomain.RegisterServices,
		climateDomain.RegisterServices,
		alarmDomain.RegisterServices,
		updateDomain.RegisterServices,
	} {
		if regErr := register(services); regErr != nil {
			return fmt.Errorf("registering domain services: %w", regErr)
		}
	}

	// Integrations
	hygrostatIntegration := hygrostat.NewIntegration(entities, services, events, humidifierDomain, nil)
	hygrostatIntegration.SetLogger(log)
	entries.RegisterHandler(hygrostatIntegration.Handler())

	vaillantIntegration := vaillant.NewIntegration(entities, climateDomain, nil)
	vaillantIntegration.SetLogger(log)
	entries.RegisterHandler(vaillantIntegration.Handler())
	if regErr := vaillantIntegration.RegisterServices(services); regErr != nil {
		return fmt.Errorf("registering vaillant services: %w", regErr)
	}

	olarmIntegration := olarm.NewIntegration(entities, alarmDomain, nil)
	olarmIntegration.SetLogger(log)
	entries.RegisterHandler(olarmIntegration.Handler())

	dispatcher := hardware.NewDispatcher()
	hardwareIntegration := hardware.NewIntegration(entities, updateDomain, dispatcher, nil)
	hardwareIntegration.SetLogger(log)
	entries.RegisterHandler(hardwareIntegration.Handler())

	if mqttClient != nil {
		esphomeIntegration := esphome.NewIntegration(mqttClient, entities)
		esphomeIntegration.SetLogger(log)
		entries.RegisterHandler(esphomeIntegration.Handler())
		if regErr := esphomeIntegration.RegisterServices(services); regErr != nil {
			return fmt.Errorf("registering esphome services: %w", regErr)
		}
	}

	// Seed config entries from the integrations config, then set up
	// every stored entry.
	if seedErr := seedConfigEntries(ctx, cfg.Integrations, entries, log); seedErr != nil {
		return fmt.Errorf("seeding config entries: %w", seedErr)
	}
	if setupErr := entries.SetupAll(ctx); setupErr != nil {
		return fmt.Errorf("setting up config entries: %w", setupErr)
	}

	// WebRTC ICE servers for camera/intercom clients
	ice := webrtc.NewRegistry(iceServersFromConfig(cfg.WebRTC))

	// Prometheus metrics (optional)
	var metricsHandler http.Handler
	if cfg.Prometheus.Enabled {
		collector := promexport.NewCollector(entities, cfg.Prometheus.Namespace)
		collector.Start(events)
		defer collector.Stop()
		metricsHandler = collector.Handler()
		log.Info("prometheus metrics enabled", "namespace", cfg.Prometheus.Namespace)
	}

	// API tokens and session JWTs
	tokens := auth.NewManager(auth.NewSQLiteTokenRepository(db.DB))

	// HTTP API server
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Entities: entities,
		Services: services,
		Entries:  entries,
		Areas:    areas,
		Events:   events,
		History:  history,
		Logbook:  logbookRepo,
		ICE:      ice,
		Hardware: dispatcher,
		Tokens:   tokens,
		Metrics:  metricsHandler,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Retention enforcement
	go pruneLoop(ctx, history, logbookRepo, cfg.Recorder, log)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses the HEARTH_CONFIG environment variable if set, otherwise the
// default.
func getConfigPath() string {
	if path := os.Getenv("HEARTH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// seedConfigEntries creates config entries for integrations declared in
// the YAML config. Entries carry a unique id derived from the config,
// so repeat boots do not duplicate them.
func seedConfigEntries(ctx context.Context, cfg config.IntegrationsConfig, entries *configentry.Manager, log *logging.Logger) error {
	add := func(domain, title, uniqueID string, data map[string]any) error {
		entry := &configentry.Entry{
			Domain:   domain,
			Title:    title,
			UniqueID: &uniqueID,
			Data:     data,
		}
		err := entries.Add(ctx, entry)
		switch {
		case err == nil:
			log.Info("config entry seeded", "domain", domain, "title", title)
			return nil
		case errors.Is(err, configentry.ErrEntryExists):
			return nil
		case errors.Is(err, configentry.ErrSetupRetry):
			// Stored; setup retries in the background
			return nil
		default:
			return fmt.Errorf("seeding %s entry %q: %w", domain, title, err)
		}
	}

	for _, h := range cfg.Hygrostat {
		data := map[string]any{
			"name":                  h.Name,
			"switch_entity":         h.HumidifierEntity,
			"sensor_entity":         h.SensorEntity,
			"device_class":          h.DeviceClass,
			"target_humidity":       h.TargetHumidity,
			"min_humidity":          h.MinHumidity,
			"max_humidity":          h.MaxHumidity,
			"dry_tolerance":         h.DryTolerance,
			"wet_tolerance":         h.WetTolerance,
			"min_cycle_duration":    h.MinCycleDuration.String(),
			"keep_alive":            h.KeepAlive.String(),
			"sensor_stale_duration": h.SensorStale.String(),
			"initial_on":            h.InitialState == "on",
			"away_fixed":            h.AwayFixed,
		}
		if h.AwayHumidity != 0 {
			data["away_humidity"] = h.AwayHumidity
		}
		if err := add(hygrostat.Domain, h.Name, "hygrostat:"+h.Name, data); err != nil {
			return err
		}
	}

	for _, e := range cfg.ESPHome {
		data := map[string]any{
			"node":             e.Node,
			"topic_prefix":     e.TopicPrefix,
			"discovery_prefix": e.DiscoveryPrefix,
			"optimistic":       e.Optimistic,
		}
		if err := add(esphome.Domain, e.Node, "esphome:"+e.Node, data); err != nil {
			return err
		}
	}

	if o := cfg.Olarm; o != nil {
		data := map[string]any{
			"api_key":       o.APIKey,
			"base_url":      o.BaseURL,
			"poll_interval": o.PollInterval.String(),
		}
		if err := add(olarm.Domain, "Olarm", "olarm:account", data); err != nil {
			return err
		}
	}

	if v := cfg.Vaillant; v != nil {
		data := map[string]any{
			"serial":        v.Serial,
			"username":      v.Username,
			"password":      v.Password,
			"base_url":      v.BaseURL,
			"poll_interval": v.PollInterval.String(),
		}
		if err := add(vaillant.Domain, "Vaillant", "vaillant:"+v.Serial, data); err != nil {
			return err
		}
	}

	if h := cfg.Hardware; h != nil {
		data := map[string]any{
			"name":           "Radio Module",
			"port":           h.SerialPort,
			"manifest_url":   h.ManifestURL,
			"flasher_binary": h.FlasherBinary,
			"poll_interval":  h.PollInterval.String(),
		}
		if h.BaudRate > 0 {
			data["flasher_args"] = []any{"-b", fmt.Sprintf("%d", h.BaudRate)}
		}
		if err := add(hardware.Domain, "Radio Module", "hardware:"+h.SerialPort, data); err != nil {
			return err
		}
	}

	return nil
}

// iceServersFromConfig converts configured ICE servers to the registry
// type.
func iceServersFromConfig(cfg config.WebRTCConfig) []webrtc.Server {
	servers := make([]webrtc.Server, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		servers = append(servers, webrtc.Server{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

// pruneLoop periodically enforces the retention windows for state
// history and the logbook.
func pruneLoop(ctx context.Context, history *entity.Recorder, logbookRepo logbook.Repository, cfg config.RecorderConfig, log *logging.Logger) {
	if cfg.RetentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneCtx, cancel := context.WithTimeout(ctx, time.Minute)

			if history != nil {
				if _, err := history.Prune(pruneCtx); err != nil {
					log.Error("pruning state history", "error", err)
				}
			}

			cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays)
			if removed, err := logbookRepo.Purge(pruneCtx, cutoff); err != nil {
				log.Error("purging logbook", "error", err)
			} else if removed > 0 {
				log.Info("logbook purged", "removed", removed)
			}

			cancel()
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// Optional clients may be nil when their feature is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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
