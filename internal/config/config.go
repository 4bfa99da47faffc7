// Package config reads the viewer host and CLI settings from the environment.
package config

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GoldenTiger720/secondkeeper/internal/viewer"
	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
	pkgconfig "github.com/GoldenTiger720/secondkeeper/pkg/config"
	"github.com/GoldenTiger720/secondkeeper/pkg/redis"
)

// Config is the resolved environment.
type Config struct {
	APIBaseURL string
	APIToken   string
	Port       string

	Quality             cameras.Quality
	SkipStartOnOpen     bool
	Backoff             viewer.Backoff
	PingInterval        time.Duration
	LivenessTimeout     time.Duration
	MetricsPollInterval time.Duration
	APITimeout          time.Duration

	Redis        redis.Config
	AlertChannel string
}

// Load reads the environment. Call pkg/config.LoadEnv first to pick up .env files.
func Load() (Config, error) {
	cfg := Config{
		APIBaseURL: strings.TrimRight(strings.TrimSpace(pkgconfig.GetEnv("API_BASE_URL", "")), "/"),
		APIToken:   pkgconfig.GetEnv("API_TOKEN", ""),
		Port:       pkgconfig.GetEnv("PORT", "18030"),

		Quality:         cameras.Quality(strings.ToLower(pkgconfig.GetEnv("STREAM_QUALITY", string(cameras.QualityMedium)))),
		SkipStartOnOpen: pkgconfig.GetEnvBool("SKIP_START_ON_OPEN", false),
		Backoff: viewer.Backoff{
			Base:        pkgconfig.GetEnvDuration("RECONNECT_BASE_DELAY", time.Second),
			Max:         pkgconfig.GetEnvDuration("RECONNECT_MAX_DELAY", 30*time.Second),
			MaxAttempts: pkgconfig.GetEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
		},
		PingInterval:        pkgconfig.GetEnvDuration("PING_INTERVAL", 30*time.Second),
		LivenessTimeout:     pkgconfig.GetEnvDuration("LIVENESS_TIMEOUT", 75*time.Second),
		MetricsPollInterval: pkgconfig.GetEnvDuration("METRICS_POLL_INTERVAL", 3*time.Second),
		APITimeout:          pkgconfig.GetEnvDuration("API_TIMEOUT", 10*time.Second),

		Redis: redis.Config{
			Addrs:      pkgconfig.GetEnvList("REDIS_ADDRS"),
			MasterName: pkgconfig.GetEnv("REDIS_MASTER_NAME", ""),
			Password:   pkgconfig.GetEnv("REDIS_PASSWORD", ""),
			DB:         pkgconfig.GetEnvInt("REDIS_DB", 0),
		},
		AlertChannel: pkgconfig.GetEnv("ALERT_CHANNEL", "secondkeeper:alerts"),
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings that cannot fall back to a default.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("API_BASE_URL must be an absolute http(s) URL")
	}
	if !c.Quality.Valid() {
		return errors.New("STREAM_QUALITY must be one of low, medium, high")
	}
	return nil
}

// RedisEnabled reports whether alerts should be published to Redis.
func (c Config) RedisEnabled() bool {
	return len(c.Redis.Addrs) > 0
}

// ViewerConfig returns the per-camera viewer settings. Callers add the
// logger, metrics, notifier and hooks.
func (c Config) ViewerConfig(cameraID string) viewer.Config {
	vc := viewer.Config{
		CameraID:            cameraID,
		APIBaseURL:          c.APIBaseURL,
		Quality:             c.Quality,
		SkipStartOnOpen:     c.SkipStartOnOpen,
		Backoff:             c.Backoff,
		PingInterval:        c.PingInterval,
		LivenessTimeout:     c.LivenessTimeout,
		MetricsPollInterval: c.MetricsPollInterval,
	}
	if c.APIToken != "" {
		vc.Header = http.Header{"Authorization": []string{"Bearer " + c.APIToken}}
	}
	return vc
}
