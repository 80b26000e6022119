package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tle_judge/internal/domain/model"
)

type Config struct {
	Env      string
	LogLevel string
	APIPort  string
	JWTKey   []byte
	JWTExp   time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GradingQueueKey       string
	DrainBatchSize        int
	DrainOnRead           bool
	GradingWorkerEnabled  bool
	GradingWorkerInterval time.Duration
	ReclaimPendingAfter   time.Duration
	RejudgeStaleAfter     time.Duration
	GradeTimeout          time.Duration

	SandboxURL        string
	SandboxTimeout    time.Duration
	SandboxMaxRetries int
	SandboxRetryBase  time.Duration

	MaxCodeBytes      int
	LanguagesFile     string
	AllowedLanguages  []string
	Languages         model.LanguageSet
	SubmitRatePerMin  int
	SubmitBurst       int

	DuelDurationSec         int
	DuelPendingGrace        time.Duration
	DuelRecentProblemWindow int
	QueueWaitPerPositionSec int
	RatingKFactor           float64

	PromotionDeadline *time.Time

	SweepEnabled  bool
	SweepSchedule string
}

var AppConfig *Config

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	AppConfig = cfg
}

// FromEnv builds a Config from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		APIPort:  getEnv("API_PORT", "8080"),
		JWTKey:   []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:   time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "judge"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "tle_judge"),
		DBSslMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		GradingQueueKey:       getEnv("GRADING_QUEUE_KEY", "grading:pending"),
		DrainBatchSize:        getEnvAsInt("DRAIN_BATCH_SIZE", 4),
		DrainOnRead:           getEnvAsBool("DRAIN_ON_READ", true),
		GradingWorkerEnabled:  getEnvAsBool("GRADING_WORKER_ENABLED", false),
		GradingWorkerInterval: getEnvAsDuration("GRADING_WORKER_INTERVAL", 2*time.Second),
		ReclaimPendingAfter:   getEnvAsDuration("RECLAIM_PENDING_AFTER", 2*time.Minute),
		RejudgeStaleAfter:     getEnvAsDuration("REJUDGE_STALE_AFTER", 10*time.Minute),
		GradeTimeout:          getEnvAsDuration("GRADE_TIMEOUT", 5*time.Minute),

		SandboxURL:        getEnv("SANDBOX_URL", "http://localhost:2000"),
		SandboxTimeout:    getEnvAsDuration("SANDBOX_TIMEOUT", 30*time.Second),
		SandboxMaxRetries: getEnvAsInt("SANDBOX_MAX_RETRIES", 3),
		SandboxRetryBase:  getEnvAsDuration("SANDBOX_RETRY_BASE", 200*time.Millisecond),

		MaxCodeBytes:     getEnvAsInt("MAX_CODE_BYTES", 64*1024),
		LanguagesFile:    getEnv("LANGUAGES_FILE", ""),
		AllowedLanguages: getEnvAsList("ALLOWED_LANGUAGES", nil),
		SubmitRatePerMin: getEnvAsInt("SUBMIT_RATE_PER_MIN", 12),
		SubmitBurst:      getEnvAsInt("SUBMIT_BURST", 4),

		DuelDurationSec:         getEnvAsInt("DUEL_DURATION_SEC", 900),
		DuelPendingGrace:        getEnvAsDuration("DUEL_PENDING_GRACE", 2*time.Minute),
		DuelRecentProblemWindow: getEnvAsInt("DUEL_RECENT_PROBLEM_WINDOW", 10),
		QueueWaitPerPositionSec: getEnvAsInt("QUEUE_WAIT_PER_POSITION_SEC", 15),
		RatingKFactor:           getEnvAsFloat("RATING_K_FACTOR", 32),

		SweepEnabled:  getEnvAsBool("SWEEP_ENABLED", false),
		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 30s"),
	}

	cfg.DBConnStr = "host=" + cfg.DBHost +
		" port=" + cfg.DBPort +
		" user=" + cfg.DBUser +
		" password=" + cfg.DBPassword +
		" dbname=" + cfg.DBName +
		" sslmode=" + cfg.DBSslMode

	if raw := getEnv("PROMOTION_DEADLINE", ""); raw != "" {
		deadline, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("PROMOTION_DEADLINE: %w", err)
		}
		cfg.PromotionDeadline = &deadline
	}

	langs := DefaultLanguages()
	if cfg.LanguagesFile != "" {
		fromFile, err := LoadLanguages(cfg.LanguagesFile)
		if err != nil {
			return nil, err
		}
		langs = fromFile
	}
	cfg.Languages = allowLanguages(langs, cfg.AllowedLanguages)
	if len(cfg.Languages) == 0 {
		return nil, fmt.Errorf("no languages enabled")
	}
	return cfg, nil
}

// allowLanguages narrows the registry to the slugs in allowed; an empty list keeps every active language.
func allowLanguages(langs []model.Language, allowed []string) model.LanguageSet {
	set := model.NewLanguageSet(langs)
	if len(allowed) == 0 {
		return set
	}
	keep := make(model.LanguageSet, len(allowed))
	for _, slug := range allowed {
		if l, ok := set[slug]; ok {
			keep[slug] = l
		}
	}
	return keep
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
