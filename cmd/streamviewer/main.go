package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/GoldenTiger720/secondkeeper/internal/config"
	"github.com/GoldenTiger720/secondkeeper/internal/handlers"
	"github.com/GoldenTiger720/secondkeeper/internal/metrics"
	"github.com/GoldenTiger720/secondkeeper/internal/notify"
	"github.com/GoldenTiger720/secondkeeper/internal/viewer"
	"github.com/GoldenTiger720/secondkeeper/pkg/clients"
	camclient "github.com/GoldenTiger720/secondkeeper/pkg/clients/cameras"
	pkgconfig "github.com/GoldenTiger720/secondkeeper/pkg/config"
	"github.com/GoldenTiger720/secondkeeper/pkg/logging"
	"github.com/GoldenTiger720/secondkeeper/pkg/monitoring"
	"github.com/GoldenTiger720/secondkeeper/pkg/redis"
	"github.com/GoldenTiger720/secondkeeper/pkg/server"
	"github.com/GoldenTiger720/secondkeeper/pkg/version"
)

func main() {
	version.ComponentName = "streamviewer"

	// Setup logger
	logger := logging.NewLoggerWithService("streamviewer")

	// Load environment variables
	pkgconfig.LoadEnv(logger)
	logger.SetLevel(pkgconfig.GetLogLevel())

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	logger.WithField("version", version.String()).Info("Starting Stream Viewer")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("streamviewer", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("streamviewer", version.Version, version.GitCommit)
	serviceMetrics := metrics.New(metricsCollector)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cameraClient := camclient.NewClient(cfg.APIBaseURL,
		camclient.WithToken(cfg.APIToken),
		camclient.WithHTTPClient(clients.NewHTTPClient(cfg.APITimeout)),
	)

	// Alerts always go to the log; Redis fan-out is optional
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	var redisClient goredis.UniversalClient
	var alertBus *notify.RedisNotifier
	if cfg.RedisEnabled() {
		redisClient, err = redis.NewUniversalClient(ctx, cfg.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		alertBus = notify.NewRedisNotifier(redisClient, cfg.AlertChannel, logger)
		notifiers = append(notifiers, alertBus)
	}

	manager := handlers.NewManager(func(cameraID string) (*viewer.Viewer, error) {
		vc := cfg.ViewerConfig(cameraID)
		vc.Logger = logger
		vc.Metrics = serviceMetrics
		vc.Notifier = notifiers
		return viewer.New(cameraClient, vc)
	}, logger)
	viewerHandlers := handlers.NewViewerHandlers(manager, logger)

	// Add health checks
	addHealthChecks(healthChecker, cfg, redisClient)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "streamviewer", healthChecker, metricsCollector)
	viewerHandlers.RegisterRoutes(router)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("streamviewer", cfg.Port)
	if err := server.Start(ctx, serverConfig, router, logger); err != nil {
		logger.WithError(err).Error("Server stopped with error")
	}

	manager.Close()
	if alertBus != nil {
		alertBus.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("Stream Viewer stopped")
}

// addHealthChecks registers the service checks. Redis is only checked when it
// is configured; without it alerts go to the log alone.
func addHealthChecks(hc *monitoring.HealthChecker, cfg config.Config, redisClient goredis.UniversalClient) {
	hc.AddCheck("camera_api", monitoring.HTTPServiceHealthCheck("camera_api", cfg.APIBaseURL))
	hc.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"API_BASE_URL":   cfg.APIBaseURL,
		"STREAM_QUALITY": string(cfg.Quality),
		"ALERT_CHANNEL":  cfg.AlertChannel,
		"RECONNECT_MAX":  strconv.Itoa(cfg.Backoff.MaxAttempts),
	}))
	if redisClient != nil {
		hc.AddCheck("redis", monitoring.PingHealthCheck("redis", monitoring.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})))
	}
}
