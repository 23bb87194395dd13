// Pi relay - LED and camera relay between Raspberry Pi devices and dashboards.
//
// The relay accepts WebSocket channels from devices and dashboards, keeps the
// authoritative LED state, the latest photo and a bounded audit trail in
// memory, and fans every event out to the other connected parties. MQTT and
// InfluxDB mirrors are optional.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/pi-relay/internal/api"
	"github.com/nerrad567/pi-relay/internal/audit"
	"github.com/nerrad567/pi-relay/internal/capture"
	"github.com/nerrad567/pi-relay/internal/geo"
	"github.com/nerrad567/pi-relay/internal/infrastructure/config"
	"github.com/nerrad567/pi-relay/internal/infrastructure/database"
	"github.com/nerrad567/pi-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/pi-relay/internal/infrastructure/logging"
	"github.com/nerrad567/pi-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/pi-relay/internal/registry"
	"github.com/nerrad567/pi-relay/internal/relay"
	"github.com/nerrad567/pi-relay/internal/state"
	"github.com/nerrad567/pi-relay/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// shutdownFlushTimeout bounds the wait for queued audit entries on exit.
	shutdownFlushTimeout = 5 * time.Second

	geoCachePruneInterval = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the relay and blocks until ctx is cancelled. Deferred cleanups
// run in reverse start order: API, router, MQTT, InfluxDB, geo, database.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Pi relay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath, explicit := getConfigPath()
	cfg, err := config.Load(configPath, !explicit)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Database (geolocation cache only)
	var db *database.DB
	if cfg.Geo.Enabled && cfg.Geo.Cache.Enabled {
		db, err = openDatabase(ctx, cfg)
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
	}

	// Geolocation
	var resolver audit.Resolver
	var geoStats api.GeoStats
	if cfg.Geo.Enabled {
		lookup, closeLookup, lookupErr := buildLookup(ctx, cfg, db, log)
		if lookupErr != nil {
			return lookupErr
		}
		defer closeLookup()

		enricher := geo.NewEnricher(lookup, cfg.GetGeoTimeout())
		enricher.SetLogger(log.With("component", "geo"))
		resolver = enricher
		geoStats = enricher
	} else {
		log.Info("geolocation disabled")
	}

	// In-memory core
	auditLog := audit.NewLog(audit.DefaultCapacity, resolver)
	reg := registry.New()
	reconciler := state.NewReconciler()
	captures := capture.NewStore()

	// InfluxDB (optional)
	var telemetry relay.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		auditLog.AddObserver(influxClient.WriteStateChange)
		telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT (optional). The mirror observes the audit log; the command
	// subscription is added once the router exists.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mirror := mqtt.NewMirror(mqttClient, mqttClient.Topics(), byte(cfg.MQTT.QoS))
		mirror.SetLogger(log)
		auditLog.AddObserver(mirror.Observe)
	} else {
		log.Info("MQTT disabled")
	}

	// Event router
	router, err := relay.New(relay.Deps{
		Registry:    reg,
		State:       reconciler,
		Audit:       auditLog,
		Captures:    captures,
		Telemetry:   telemetry,
		Logger:      log.With("component", "relay"),
		BacklogWarn: cfg.Relay.AuditBacklogWarn,
	})
	if err != nil {
		return fmt.Errorf("creating relay router: %w", err)
	}
	router.Start(ctx)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
		defer cancel()
		if flushErr := router.Flush(flushCtx); flushErr != nil {
			log.Warn("audit queue not drained before shutdown", "error", flushErr)
		}
		if closeErr := router.Close(); closeErr != nil {
			log.Error("error stopping relay router", "error", closeErr)
		}
	}()

	if mqttClient != nil {
		if subErr := subscribeCommands(mqttClient, router, byte(cfg.MQTT.QoS)); subErr != nil {
			return subErr
		}
		log.Info("MQTT command topic subscribed", "topic", mqttClient.Topics().Command())
	}

	// HTTP + WebSocket
	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Router:   router,
		Registry: reg,
		State:    reconciler,
		Audit:    auditLog,
		Captures: captures,
		Geo:      geoStats,
		Version:  version,
	}
	// Interfaces stay nil for disabled backends.
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
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"websocket_path", cfg.WebSocket.Path,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path and whether it was set
// explicitly through PIRELAY_CONFIG. Only the default path may be missing.
func getConfigPath() (string, bool) {
	if path := os.Getenv("PIRELAY_CONFIG"); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// openDatabase opens SQLite and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// buildLookup selects the geolocation backend: the MaxMind database when
// configured, otherwise the HTTP endpoint, optionally behind the SQLite
// cache. The returned func releases the backend.
func buildLookup(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) (geo.Lookup, func(), error) {
	var lookup geo.Lookup
	closeFn := func() {}

	if cfg.Geo.MaxMindDB != "" {
		mm, err := geo.OpenMaxMind(cfg.Geo.MaxMindDB)
		if err != nil {
			return nil, nil, fmt.Errorf("opening MaxMind database: %w", err)
		}
		lookup = mm
		closeFn = func() {
			if err := mm.Close(); err != nil {
				log.Error("error closing MaxMind database", "error", err)
			}
		}
		log.Info("geolocation backend ready", "backend", "maxmind", "path", cfg.Geo.MaxMindDB)
	} else {
		lookup = geo.NewHTTPLookup(cfg.Geo.LookupURL, &http.Client{Timeout: cfg.GetGeoTimeout()})
		log.Info("geolocation backend ready", "backend", "http", "url", cfg.Geo.LookupURL)
	}

	if db != nil {
		cache := geo.NewCachedLookup(lookup, db.SQL(), cfg.GetGeoCacheTTL())
		cache.SetLogger(log.With("component", "geo_cache"))
		go pruneGeoCache(ctx, cache, log)
		lookup = cache
		log.Info("geolocation cache enabled", "ttl", cfg.GetGeoCacheTTL())
	}

	return lookup, closeFn, nil
}

// pruneGeoCache removes expired cache rows until ctx is cancelled.
func pruneGeoCache(ctx context.Context, cache *geo.CachedLookup, log *logging.Logger) {
	ticker := time.NewTicker(geoCachePruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := cache.Prune(ctx)
			if err != nil {
				log.Warn("geo cache prune failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("geo cache pruned", "rows", n)
			}
		}
	}
}

// connectMQTT connects to the broker and hooks connection logging.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"prefix", client.Topics().Prefix,
	)
	return client, nil
}

// subscribeCommands routes the MQTT command topic into the router with the
// system source.
func subscribeCommands(client *mqtt.Client, router *relay.Router, qos byte) error {
	handler := mqtt.CommandHandler(func(ctx context.Context, command string) error {
		_, err := router.Command(ctx, relay.CommandRequest{
			Command: command,
			Source:  audit.SourceSystem,
		})
		return err
	})
	if err := client.Subscribe(client.Topics().Command(), qos, handler); err != nil {
		return fmt.Errorf("subscribing to MQTT commands: %w", err)
	}
	return nil
}
