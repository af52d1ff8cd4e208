package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	alertapp "spikealerts/internal/alerts/application"
	alertrepo "spikealerts/internal/alerts/infrastructure/postgres"
	"spikealerts/internal/audit"
	"spikealerts/internal/auth"
	"spikealerts/internal/cycle"
	"spikealerts/internal/housekeeping"
	"spikealerts/internal/notify"
	notifyhttp "spikealerts/internal/notify/interfaces/http"
	notifyrepo "spikealerts/internal/notify/postgres"
	"spikealerts/internal/observability/metrics"
	poiapp "spikealerts/internal/pois/application"
	poirepo "spikealerts/internal/pois/infrastructure/postgres"
	poihttp "spikealerts/internal/pois/interfaces/http"
	sensorapp "spikealerts/internal/sensors/application"
	sensors "spikealerts/internal/sensors/domain"
	sensorrepo "spikealerts/internal/sensors/infrastructure/postgres"
	"spikealerts/internal/sensors/infrastructure/purpleair"
	"spikealerts/internal/statuscache"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := loadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	monitorConfigs, err := sensors.LoadMonitorConfigs(cfg.MonitorsConfigPath)
	if err != nil {
		logger.Fatal("monitor config error", zap.Error(err))
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db open error", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("db ping error", zap.Error(err))
	}

	metrics.Init(db, logger)

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Fatal("timezone error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sensorRepo, err := sensorrepo.NewSensorRepository(db)
	if err != nil {
		logger.Fatal("sensor repository error", zap.Error(err))
	}
	stateRepo, err := sensorrepo.NewMonitorStateRepository(db)
	if err != nil {
		logger.Fatal("monitor state repository error", zap.Error(err))
	}
	alertRepo := alertrepo.NewAlertRepository(db)
	poiRepo, err := poirepo.NewPOIRepository(db, cfg.ProjectionEPSG)
	if err != nil {
		logger.Fatal("poi repository error", zap.Error(err))
	}
	reportRepo, err := poirepo.NewReportRepository(db)
	if err != nil {
		logger.Fatal("report repository error", zap.Error(err))
	}
	subscriberRepo, err := notifyrepo.NewSubscriberRepository(db)
	if err != nil {
		logger.Fatal("subscriber repository error", zap.Error(err))
	}

	provider, err := purpleair.NewClient(cfg.PurpleAirBaseURL, cfg.PurpleAirAPIKey, logger)
	if err != nil {
		logger.Fatal("provider client error", zap.Error(err))
	}

	poller, err := sensorapp.NewPoller(sensorRepo, provider, sensorapp.WithLogger(logger))
	if err != nil {
		logger.Fatal("poller error", zap.Error(err))
	}
	ledger, err := alertapp.NewLedger(alertRepo, alertapp.WithLogger(logger))
	if err != nil {
		logger.Fatal("ledger error", zap.Error(err))
	}
	aggregator, err := poiapp.NewAggregator(poiRepo, cfg.ReportLag, poiapp.WithLogger(logger))
	if err != nil {
		logger.Fatal("aggregator error", zap.Error(err))
	}

	channel, err := notify.NewWebhookChannel(cfg.ContactWebhookURL)
	if err != nil {
		logger.Fatal("contact webhook error", zap.Error(err))
	}
	debouncer, err := notify.NewDebouncer(subscriberRepo, channel, cfg.MinContactInterval,
		notify.WithLogger(logger),
		notify.WithLocation(location),
		notify.WithMapURL(cfg.MapURL),
		notify.WithReportURL(cfg.ReportBaseURL))
	if err != nil {
		logger.Fatal("debouncer error", zap.Error(err))
	}

	engineOpts := []cycle.EngineOption{cycle.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, status cache disabled", zap.Error(err))
		} else {
			snapshot, err := statuscache.NewWriter(redisClient, cfg.StatusCacheTTL,
				statuscache.WithLogger(logger),
				statuscache.WithPOILister(poiRepo))
			if err != nil {
				logger.Fatal("status cache error", zap.Error(err))
			}
			engineOpts = append(engineOpts, cycle.WithSnapshotter(snapshot))
		}
	}

	engine, err := cycle.NewEngine(poller, ledger, aggregator, debouncer, stateRepo, engineOpts...)
	if err != nil {
		logger.Fatal("cycle engine error", zap.Error(err))
	}
	scheduler, err := cycle.NewScheduler(monitorConfigs, stateRepo, engine,
		cycle.WithSchedulerLogger(logger))
	if err != nil {
		logger.Fatal("scheduler error", zap.Error(err))
	}
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	maintenance, err := housekeeping.NewService(sensorRepo, provider, cfg.Bounds,
		housekeeping.WithLogger(logger),
		housekeeping.WithNameFilter(cfg.SensorNameFilter))
	if err != nil {
		logger.Fatal("housekeeping error", zap.Error(err))
	}
	go func() {
		if err := maintenance.Run(ctx, monitorConfigs); err != nil {
			logger.Error("housekeeping run error", zap.Error(err))
		}
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := maintenance.Run(ctx, monitorConfigs); err != nil {
					logger.Error("housekeeping run error", zap.Error(err))
				}
			}
		}
	}()

	auditRepo := audit.NewRepository(db)
	reportHandler, err := poihttp.NewHandler(reportRepo, auditRepo)
	if err != nil {
		logger.Fatal("report handler error", zap.Error(err))
	}
	stopHandler, err := notifyhttp.NewHandler(subscriberRepo, auditRepo, logger)
	if err != nil {
		logger.Fatal("stop handler error", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/api/v1/subscriptions/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	gatewayAuth := auth.NewGatewayAuthMiddleware([]byte(cfg.GatewaySecret),
		time.Duration(cfg.GatewaySkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/reports", reportHandler)
	mux.Handle("/api/v1/reports/", reportHandler)
	mux.Handle("/api/v1/subscriptions/stop", gatewayAuth.Wrap(stopHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger),
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
}

type config struct {
	DatabaseURL        string
	HTTPAddr           string
	MonitorsConfigPath string
	PurpleAirBaseURL   string
	PurpleAirAPIKey    string
	ContactWebhookURL  string
	MapURL             string
	ReportBaseURL      string
	Timezone           string
	ReportLag          time.Duration
	MinContactInterval time.Duration
	ProjectionEPSG     int
	SensorNameFilter   string
	Bounds             housekeeping.Bounds
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	StatusCacheTTL     time.Duration
	JWTSecret          string
	GatewaySecret      string
	GatewaySkewSeconds int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:        getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:           getenvDefault("HTTP_ADDR", ":8080"),
		MonitorsConfigPath: getenvDefault("MONITORS_CONFIG", "monitors.yaml"),
		PurpleAirBaseURL:   getenvDefault("PURPLEAIR_BASE_URL", "https://api.purpleair.com"),
		PurpleAirAPIKey:    getenvDefault("PURPLEAIR_API_KEY", ""),
		ContactWebhookURL:  getenvDefault("CONTACT_WEBHOOK_URL", ""),
		MapURL:             getenvDefault("MAP_URL", ""),
		ReportBaseURL:      getenvDefault("REPORT_BASE_URL", ""),
		Timezone:           getenvDefault("TIMEZONE", "America/Chicago"),
		ReportLag:          getenvDuration("REPORT_LAG", 20*time.Minute),
		MinContactInterval: getenvDuration("MIN_CONTACT_INTERVAL", 8*time.Hour),
		ProjectionEPSG:     getenvIntDefault("PROJECTION_EPSG", 26915),
		SensorNameFilter:   getenvDefault("SENSOR_NAME_FILTER", ""),
		Bounds: housekeeping.Bounds{
			NWLng: getenvFloatDefault("BOUNDS_NW_LNG", 0),
			NWLat: getenvFloatDefault("BOUNDS_NW_LAT", 0),
			SELng: getenvFloatDefault("BOUNDS_SE_LNG", 0),
			SELat: getenvFloatDefault("BOUNDS_SE_LAT", 0),
		},
		RedisAddr:          getenvDefault("REDIS_ADDR", ""),
		RedisPassword:      getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:            getenvIntDefault("REDIS_DB", 0),
		StatusCacheTTL:     getenvDuration("STATUS_CACHE_TTL", 30*time.Minute),
		JWTSecret:          getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		GatewaySecret:      getenvDefault("GATEWAY_HMAC_SECRET", ""),
		GatewaySkewSeconds: getenvIntDefault("GATEWAY_MAX_SKEW_SECONDS", 300),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.PurpleAirAPIKey == "" {
		log.Fatal("PURPLEAIR_API_KEY is required")
	}
	if cfg.ContactWebhookURL == "" {
		log.Fatal("CONTACT_WEBHOOK_URL is required")
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

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
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

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("elapsed", time.Since(start)))
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
