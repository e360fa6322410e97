package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DeadlyParkour777/peer-review/pkg/retry"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort string
	GRPCPort string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	UserStatusTTL  time.Duration
	KafkaBrokers   []string
	NotifyTopic    string
	JWTSecret      string
	LifecycleCron  string
	BatchTimeout   time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryFactor    float64

	ReviewsPerReviewer     int
	AssignmentDeadline     time.Duration
	WarningLead            time.Duration
	ReminderLead           time.Duration
	NoticeWindow           time.Duration
	VerificationMaxAge     time.Duration
	MinVerificationReviews int
	PanelSize              int
	PassScore              float64
	BlacklistThreshold     int
	BlacklistWindow        time.Duration
}

func ConfigInit() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	return Config{
		HTTPPort: getEnv("HTTP_PORT", "8005"),
		GRPCPort: getEnv("GRPC_PORT", "8006"),

		DBHost:     getEnv("DB_HOST", "postgres"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "user"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "peer_review_db"),

		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		UserStatusTTL:  getEnvDuration("USER_STATUS_TTL", 5*time.Minute),
		KafkaBrokers:   strings.Split(getEnv("KAFKA_BROKERS", "kafka:9092"), ","),
		NotifyTopic:    getEnv("NOTIFICATIONS_TOPIC", "notifications"),
		JWTSecret:      getEnv("JWT_SECRET", "secret"),
		LifecycleCron:  getEnv("LIFECYCLE_CRON", "@every 15m"),
		BatchTimeout:   getEnvDuration("BATCH_TIMEOUT", 4*time.Minute),
		RetryAttempts:  getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", 200*time.Millisecond),
		RetryFactor:    getEnvFloat("RETRY_MULTIPLIER", 2),

		ReviewsPerReviewer:     getEnvInt("REVIEWS_PER_REVIEWER", 10),
		AssignmentDeadline:     getEnvDuration("ASSIGNMENT_DEADLINE", 7*24*time.Hour),
		WarningLead:            getEnvDuration("WARNING_LEAD", 24*time.Hour),
		ReminderLead:           getEnvDuration("REMINDER_LEAD", 2*time.Hour),
		NoticeWindow:           getEnvDuration("NOTICE_WINDOW", time.Hour),
		VerificationMaxAge:     getEnvDuration("VERIFICATION_MAX_AGE", 14*24*time.Hour),
		MinVerificationReviews: getEnvInt("VERIFICATION_MIN_REVIEWS", 8),
		PanelSize:              getEnvInt("VERIFICATION_PANEL_SIZE", 10),
		PassScore:              getEnvFloat("VERIFICATION_PASS_SCORE", 3.0),
		BlacklistThreshold:     getEnvInt("BLACKLIST_THRESHOLD", 2),
		BlacklistWindow:        getEnvDuration("BLACKLIST_WINDOW", 30*24*time.Hour),
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName,
	)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvFloat(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.RetryAttempts,
		BaseDelay:   c.RetryBaseDelay,
		Multiplier:  c.RetryFactor,
	}
}
