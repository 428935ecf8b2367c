package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret     string
	OpsAPIKeyHash string // bcrypt hash of the static ops key; empty disables it

	// Worker loop tuning. Defaults are safe to run unconfigured.
	PollInterval        time.Duration
	BatchSize           int
	LeaseTimeout        time.Duration
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	SchemaRetryInterval time.Duration

	// Matching and digest policy.
	MatchMinScore float64
	RateWindow    time.Duration
	RateMax       int
	DigestTopN    int

	// Recurring job hours (UTC).
	StatsHourUTC int
	ResetHourUTC int

	// PushURL is the push provider endpoint; empty disables push.
	PushURL string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          mustGetenv("DATABASE_URL"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",

		JWTSecret:     mustGetenv("JWT_SECRET"),
		OpsAPIKeyHash: getenv("OPS_API_KEY_HASH", ""),

		PollInterval:        getenvDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		BatchSize:           getenvInt("WORKER_BATCH_SIZE", 10),
		LeaseTimeout:        getenvDuration("WORKER_LEASE_TIMEOUT", 5*time.Minute),
		BackoffBase:         getenvDuration("WORKER_BACKOFF_BASE", 30*time.Second),
		BackoffMax:          getenvDuration("WORKER_BACKOFF_MAX", time.Hour),
		SchemaRetryInterval: getenvDuration("WORKER_SCHEMA_RETRY", 30*time.Second),

		MatchMinScore: getenvFloat("MATCH_MIN_SCORE", 20),
		RateWindow:    getenvDuration("NOTIFY_RATE_WINDOW", time.Hour),
		RateMax:       getenvInt("NOTIFY_RATE_MAX", 5),
		DigestTopN:    getenvInt("DIGEST_TOP_N", 3),

		StatsHourUTC: getenvInt("STATS_HOUR_UTC", 3),
		ResetHourUTC: getenvInt("RESET_HOUR_UTC", 4),

		PushURL: getenv("PUSH_URL", ""),
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
