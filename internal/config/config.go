package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the review gateway.
type Config struct {
	AppName  string
	AppEnv   string
	AppPort  string
	LogLevel string

	BackendURL     string
	BackendTimeout time.Duration

	JWTSecret     string
	ReviewerRoles []string

	RefreshStrategy        string
	RefreshDelay           time.Duration
	RefreshBackoffInitial  time.Duration
	RefreshBackoffMax      time.Duration
	RefreshBackoffAttempts int
	RefreshEventTimeout    time.Duration

	RedisURL      string
	NATSURL       string
	EventsChannel string
	ExamCacheTTL  time.Duration

	DatabaseURL string

	UploadMaxSizeMB int
	SessionIdleTTL  time.Duration

	NotificationKeepAlive time.Duration

	RateLimitMax    int
	RateLimitWindow time.Duration
}

// DefaultReviewerRoles are the token roles admitted to the review, upload and
// activity routes when auth.reviewer_roles is unset.
var DefaultReviewerRoles = []string{"teacher", "admin", "authenticated"}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("REVIEW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Review Gateway")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("backend.url", "http://localhost:8080")
	v.SetDefault("backend.timeout", "30s")
	v.SetDefault("auth.reviewer_roles", strings.Join(DefaultReviewerRoles, ","))
	v.SetDefault("refresh.strategy", "delay")
	v.SetDefault("refresh.delay", "2000ms")
	v.SetDefault("refresh.backoff_initial", "1s")
	v.SetDefault("refresh.backoff_max", "15s")
	v.SetDefault("refresh.backoff_attempts", 8)
	v.SetDefault("refresh.event_timeout", "2m")
	v.SetDefault("events.channel", "gema:grading")
	v.SetDefault("exam.cache_ttl", "5m")
	v.SetDefault("database.url", "sqlite://review_activity.db")
	v.SetDefault("upload.max_size_mb", 20)
	v.SetDefault("session.idle_ttl", "30m")
	v.SetDefault("notifications.keepalive", "30s")
	v.SetDefault("ratelimit.max", 20)
	v.SetDefault("ratelimit.window", "1m")

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		LogLevel:               strings.ToLower(v.GetString("log.level")),
		BackendURL:             strings.TrimRight(v.GetString("backend.url"), "/"),
		JWTSecret:              v.GetString("jwt.secret"),
		ReviewerRoles:          splitList(v.GetString("auth.reviewer_roles")),
		RefreshStrategy:        strings.ToLower(strings.TrimSpace(v.GetString("refresh.strategy"))),
		RefreshBackoffAttempts: v.GetInt("refresh.backoff_attempts"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		EventsChannel:          v.GetString("events.channel"),
		DatabaseURL:            v.GetString("database.url"),
		UploadMaxSizeMB:        v.GetInt("upload.max_size_mb"),
		RateLimitMax:           v.GetInt("ratelimit.max"),
	}

	durations["backend.timeout"] = &cfg.BackendTimeout
	durations["refresh.delay"] = &cfg.RefreshDelay
	durations["refresh.backoff_initial"] = &cfg.RefreshBackoffInitial
	durations["refresh.backoff_max"] = &cfg.RefreshBackoffMax
	durations["refresh.event_timeout"] = &cfg.RefreshEventTimeout
	durations["exam.cache_ttl"] = &cfg.ExamCacheTTL
	durations["session.idle_ttl"] = &cfg.SessionIdleTTL
	durations["notifications.keepalive"] = &cfg.NotificationKeepAlive
	durations["ratelimit.window"] = &cfg.RateLimitWindow

	for key, target := range durations {
		value, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*target = value
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.RefreshStrategy {
	case "", "delay", "backoff", "event":
	default:
		return Config{}, fmt.Errorf("unknown refresh strategy %q", cfg.RefreshStrategy)
	}

	if len(cfg.ReviewerRoles) == 0 {
		return Config{}, fmt.Errorf("auth.reviewer_roles must name at least one role")
	}

	if cfg.UploadMaxSizeMB <= 0 {
		cfg.UploadMaxSizeMB = 20
	}

	if cfg.RefreshBackoffAttempts <= 0 {
		cfg.RefreshBackoffAttempts = 8
	}

	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 20
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			items = append(items, item)
		}
	}
	return items
}
