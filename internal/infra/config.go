package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PollConfig bounds one provider poll loop: a fixed delay between polls and a
// cap on the number of polls.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	MetricsAddr      string
	DatabaseURL      string
	JWTSecret        string
	CORSOrigins      []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	RedisAddr    string
	RedisDB      int
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	NATSURL      string
	StatusPush   string

	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3UseSSL        bool
	S3PublicBaseURL string
	StoragePath     string
	StorageBaseURL  string

	KieAPIKey              string
	KieBaseURL             string
	GeminiAPIKey           string
	GeminiModel            string
	AssemblyServiceURL     string
	ProviderRequestTimeout time.Duration

	ImageModel        string
	ShortVideoModel   string
	LongVideoModel    string
	LongFormThreshold int
	SegmentSeconds    int
	StageBudget       time.Duration
	CharacterPoll     PollConfig
	FramePoll         PollConfig
	ShortVideoPoll    PollConfig
	LongVideoPoll     PollConfig
	WorkerConcurrency int

	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration

	ClientTimeout       time.Duration
	SyncActivityTimeout time.Duration
	SyncPollInterval    time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		MetricsAddr:      getEnv("METRICS_ADDR", ":9090"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 10),

		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisDB:      getEnvInt("REDIS_DB", 0),
		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ugc.pipeline"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ugc.stages"),
		NATSURL:      os.Getenv("NATS_URL"),
		StatusPush:   strings.ToLower(getEnv("STATUS_PUSH", "redis")),

		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        getEnv("S3_BUCKET", "ugc-products"),
		S3UseSSL:        getEnvBool("S3_USE_SSL", false),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		StoragePath:     getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:  os.Getenv("STORAGE_BASE_URL"),

		KieAPIKey:              os.Getenv("KIE_API_KEY"),
		KieBaseURL:             getEnv("KIE_BASE_URL", "https://api.kie.ai"),
		GeminiAPIKey:           os.Getenv("GEMINI_API_KEY"),
		GeminiModel:            getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		AssemblyServiceURL:     os.Getenv("ASSEMBLY_SERVICE_URL"),
		ProviderRequestTimeout: getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 15*time.Second),

		ImageModel:        getEnv("IMAGE_MODEL", "nano-banana-pro"),
		ShortVideoModel:   getEnv("SHORT_VIDEO_MODEL", "seedance-1.5-pro"),
		LongVideoModel:    getEnv("LONG_VIDEO_MODEL", "veo-3-1"),
		LongFormThreshold: getEnvInt("LONG_FORM_THRESHOLD_SECONDS", 12),
		SegmentSeconds:    getEnvInt("SEGMENT_SECONDS", 8),
		StageBudget:       getEnvDuration("STAGE_BUDGET", 7*time.Hour),
		CharacterPoll:     getEnvPoll("CHARACTER_POLL", PollConfig{5 * time.Second, 60}),
		FramePoll:         getEnvPoll("FRAME_POLL", PollConfig{5 * time.Second, 60}),
		ShortVideoPoll:    getEnvPoll("SHORT_VIDEO_POLL", PollConfig{10 * time.Second, 150}),
		LongVideoPoll:     getEnvPoll("LONG_VIDEO_POLL", PollConfig{15 * time.Second, 180}),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),

		ReconcileInterval:   getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
		ReconcileStaleAfter: getEnvDuration("RECONCILE_STALE_AFTER", 5*time.Minute),

		ClientTimeout:       getEnvDuration("CLIENT_TIMEOUT", 900*time.Second),
		SyncActivityTimeout: getEnvDuration("SYNC_ACTIVITY_TIMEOUT", 30*time.Second),
		SyncPollInterval:    getEnvDuration("SYNC_POLL_INTERVAL", 3*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.StorageBaseURL == "" {
		cfg.StorageBaseURL = fmt.Sprintf("http://localhost:%s/static", cfg.Port)
	}

	validate(cfg)
	return cfg, nil
}

// validate resets out-of-range tunables to their defaults.
func validate(cfg *Config) {
	if cfg.LongFormThreshold < 1 {
		cfg.LongFormThreshold = 12
	}
	if cfg.SegmentSeconds < 1 {
		cfg.SegmentSeconds = 8
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 4
	}
	if cfg.ProviderRequestTimeout <= 0 || cfg.ProviderRequestTimeout >= cfg.StageBudget {
		cfg.ProviderRequestTimeout = 15 * time.Second
	}
	for _, pc := range []*PollConfig{&cfg.CharacterPoll, &cfg.FramePoll, &cfg.ShortVideoPoll, &cfg.LongVideoPoll} {
		if window := pc.Interval * time.Duration(pc.MaxAttempts); window >= cfg.StageBudget {
			pc.MaxAttempts = int((cfg.StageBudget - time.Second) / pc.Interval)
		}
		if pc.MaxAttempts < 1 {
			pc.MaxAttempts = 1
		}
	}
	if cfg.SyncPollInterval <= 0 {
		cfg.SyncPollInterval = 3 * time.Second
	}
	switch cfg.StatusPush {
	case "redis", "nats", "none":
	default:
		cfg.StatusPush = "none"
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// getEnvPoll reads <PREFIX>_INTERVAL and <PREFIX>_ATTEMPTS.
func getEnvPoll(prefix string, fallback PollConfig) PollConfig {
	out := fallback
	out.Interval = getEnvDuration(prefix+"_INTERVAL", fallback.Interval)
	if n := getEnvInt(prefix+"_ATTEMPTS", fallback.MaxAttempts); n > 0 {
		out.MaxAttempts = n
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
