package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DeadlyParkour777/peer-review/pkg/retry"
	"github.com/joho/godotenv"
)

type Config struct {
	GRPCPort string

	KafkaBrokers []string
	NotifyTopic  string
	GroupID      string

	SMTPHost          string
	SMTPPort          int
	SMTPUser          string
	SMTPPassword      string
	SMTPFrom          string
	SMTPSkipTLSVerify bool

	RetryAttempts  int
	RetryBaseDelay time.Duration
}

func ConfigInit() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	return Config{
		GRPCPort: getEnv("GRPC_PORT", "8007"),

		KafkaBrokers: strings.Split(getEnv("KAFKA_BROKERS", "kafka:9092"), ","),
		NotifyTopic:  getEnv("NOTIFICATIONS_TOPIC", "notifications"),
		GroupID:      getEnv("GROUP_ID", "notification-group"),

		SMTPHost:          getEnv("SMTP_HOST", "localhost"),
		SMTPPort:          getEnvInt("SMTP_PORT", 587),
		SMTPUser:          getEnv("SMTP_USER", ""),
		SMTPPassword:      getEnv("SMTP_PASS", ""),
		SMTPFrom:          getEnv("SMTP_FROM", "Peer Review <no-reply@peer-review.local>"),
		SMTPSkipTLSVerify: getEnv("SMTP_SKIP_TLS_VERIFY", "") == "1",

		RetryAttempts:  getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", time.Second),
	}
}

func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.RetryAttempts,
		BaseDelay:   c.RetryBaseDelay,
		Multiplier:  2,
	}
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}
