package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	apihttp "ambulance-cloud/internal/api/http"
	"ambulance-cloud/internal/audit"
	"ambulance-cloud/internal/auth"
	decisioncfg "ambulance-cloud/internal/config"
	"ambulance-cloud/internal/dispatch/application"
	"ambulance-cloud/internal/dispatch/application/events"
	"ambulance-cloud/internal/dispatch/infrastructure/memory"
	"ambulance-cloud/internal/dispatch/infrastructure/postgres"
	consolehttp "ambulance-cloud/internal/dispatch/interfaces/http"
	"ambulance-cloud/internal/feeds/hospitalfeed"
	"ambulance-cloud/internal/feeds/mqttfeed"
	"ambulance-cloud/internal/notify"
	"ambulance-cloud/internal/observability/metrics"
	"ambulance-cloud/internal/registry"
	"ambulance-cloud/internal/routing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	params, err := decisioncfg.Load()
	if err != nil {
		logger.Fatalf("decision config error: %v", err)
	}
	roster, err := registry.Load()
	if err != nil {
		logger.Fatalf("registry error: %v", err)
	}

	// Postgres is optional: without it the engine runs from memory and the
	// archive and audit endpoints report unconfigured.
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	}

	metrics.Init(db, logger)

	now := time.Now().UTC()
	store := memory.NewStore()
	for _, rec := range roster.Hospitals {
		hospital, err := rec.Hospital(now)
		if err != nil {
			logger.Fatalf("registry hospital %s error: %v", rec.ID, err)
		}
		store.PutHospital(hospital)
	}
	for _, rec := range roster.Ambulances {
		unit, err := rec.Ambulance(now)
		if err != nil {
			logger.Fatalf("registry ambulance %s error: %v", rec.ID, err)
		}
		store.PutAmbulance(unit)
	}

	traffic := routing.NewTrafficIndex()
	for _, hotspot := range roster.Hotspots {
		traffic.SetFactor(routing.SegmentID(hotspot.Location, params.Routing.SegmentSizeMeters), hotspot.Factor)
	}
	for _, inc := range roster.Incidents {
		traffic.SetIncident(routing.Incident{
			ID:          inc.ID,
			Location:    inc.Location,
			Severity:    inc.Severity,
			Description: inc.Description,
		})
	}

	broker := consolehttp.NewSSEBroker()
	fanout := notify.NewMultiNotifier(broker)

	opts := []application.Option{
		application.WithLogger(logger),
		application.WithNotifier(fanout),
	}

	var archive apihttp.Archive
	var auditLogger audit.Logger
	if db != nil {
		archiveRepo := postgres.NewArchiveRepository(db)
		if err := archiveRepo.EnsureSchema(context.Background()); err != nil {
			logger.Fatalf("archive schema error: %v", err)
		}
		opts = append(opts, application.WithArchiver(archiveRepo))
		archive = archiveRepo

		auditRepo := audit.NewRepository(db)
		if err := auditRepo.EnsureSchema(context.Background()); err != nil {
			logger.Fatalf("audit schema error: %v", err)
		}
		auditLogger = auditRepo
	}

	engine, err := application.NewEngine(store, traffic, params, opts...)
	if err != nil {
		logger.Fatalf("engine error: %v", err)
	}

	hub, err := consolehttp.NewUnitHub(engine, logger)
	if err != nil {
		logger.Fatalf("unit hub error: %v", err)
	}
	fanout.Add(hub)

	if cfg.NotifyWebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.NotifyWebhookURL)
		if err != nil {
			logger.Fatalf("notify webhook error: %v", err)
		}
		tpl, err := notify.NewTemplate(cfg.NotifyTemplate)
		if err != nil {
			logger.Fatalf("notify template error: %v", err)
		}
		notifier, err := notify.NewNotifier(engine, channel, tpl,
			notify.WithEscalation(cfg.NotifyEscalationAfter),
			notify.WithCooldown(cfg.NotifyCooldown),
			notify.WithDedupeWindow(cfg.NotifyDedupeWindow),
			notify.WithRequestTimeout(cfg.NotifyTimeout),
		)
		if err != nil {
			logger.Fatalf("notifier error: %v", err)
		}
		defer notifier.Close()
		fanout.Add(notifier)
	}

	go func() {
		if err := engine.Run(context.Background()); err != nil {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for tick := range ticker.C {
			if err := engine.Submit(events.Sweep{At: tick.UTC()}); err != nil {
				logger.Printf("sweep submit error: %v", err)
			}
		}
	}()

	if cfg.MQTTBroker != "" {
		feed, err := mqttfeed.NewFeed(mqttfeed.Config{
			BrokerURL:     cfg.MQTTBroker,
			ClientID:      cfg.MQTTClientID,
			Username:      cfg.MQTTUsername,
			Password:      cfg.MQTTPassword,
			LocationTopic: cfg.MQTTLocationTopic,
			VitalsTopic:   cfg.MQTTVitalsTopic,
			TrafficTopic:  cfg.MQTTTrafficTopic,
		}, engine, logger)
		if err != nil {
			logger.Fatalf("mqtt feed error: %v", err)
		}
		if err := feed.Subscribe(); err != nil {
			logger.Fatalf("mqtt subscribe error: %v", err)
		}
		defer feed.Close()
	}

	consoleHandler, err := consolehttp.NewHandler(engine, auditLogger)
	if err != nil {
		logger.Fatalf("console handler error: %v", err)
	}
	ingestHandler, err := hospitalfeed.NewIngestHandler(engine, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	historyHandler := apihttp.NewHistoryHandler(archive)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/hospital/status", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/emergencies", consoleHandler)
	mux.Handle("/api/v1/emergencies/", consoleHandler)
	mux.Handle("/api/v1/ambulances", consoleHandler)
	mux.Handle("/api/v1/hospitals", consoleHandler)
	mux.Handle("/api/v1/snapshot", consoleHandler)
	mux.Handle("/api/v1/events/stream", consolehttp.NewStreamHandler(broker, engine))
	mux.Handle("/api/v1/units/ws", hub)
	mux.Handle("/api/v1/history", historyHandler)
	mux.Handle("/api/v1/history/", historyHandler)
	mux.Handle("/api/v1/exports/history.csv", apihttp.NewExportHistoryCSVHandler(archive))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL           string
	HTTPAddr              string
	JWTSecret             string
	IngestSecret          string
	IngestSkewSeconds     int
	SweepInterval         time.Duration
	NotifyWebhookURL      string
	NotifyTemplate        string
	NotifyEscalationAfter time.Duration
	NotifyCooldown        time.Duration
	NotifyDedupeWindow    time.Duration
	NotifyTimeout         time.Duration
	MQTTBroker            string
	MQTTClientID          string
	MQTTUsername          string
	MQTTPassword          string
	MQTTLocationTopic     string
	MQTTVitalsTopic       string
	MQTTTrafficTopic      string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:           getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:              getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:             getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:          getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:     getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		SweepInterval:         getenvDuration("SWEEP_INTERVAL", 15*time.Second),
		NotifyWebhookURL:      getenvDefault("NOTIFY_WEBHOOK_URL", ""),
		NotifyTemplate:        getenvDefault("NOTIFY_TEMPLATE", ""),
		NotifyEscalationAfter: getenvDuration("NOTIFY_ESCALATION_AFTER", 0),
		NotifyCooldown:        getenvDuration("NOTIFY_COOLDOWN", 0),
		NotifyDedupeWindow:    getenvDuration("NOTIFY_DEDUP_WINDOW", 0),
		NotifyTimeout:         getenvDuration("NOTIFY_TIMEOUT", 5*time.Second),
		MQTTBroker:            getenvDefault("MQTT_BROKER", ""),
		MQTTClientID:          getenvDefault("MQTT_CLIENT_ID", ""),
		MQTTUsername:          getenvDefault("MQTT_USERNAME", ""),
		MQTTPassword:          getenvDefault("MQTT_PASSWORD", ""),
		MQTTLocationTopic:     getenvDefault("MQTT_LOCATION_TOPIC", ""),
		MQTTVitalsTopic:       getenvDefault("MQTT_VITALS_TOPIC", ""),
		MQTTTrafficTopic:      getenvDefault("MQTT_TRAFFIC_TOPIC", ""),
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
