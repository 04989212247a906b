package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort            int
	MetricsPort         int
	DatabaseURL         string
	KafkaBrokers        []string
	RequestTopic        string
	DeliveryEventsTopic string
	DLQTopic            string
	OTLPEndpoint        string
	ServiceName         string
	SMS                 SMSConfig
}

// SMSConfig holds the gateway credentials and delivery policy.
type SMSConfig struct {
	GatewayURL     string
	APIKey         string
	SenderID       string
	EntityID       string
	MaxAttempts    int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	RetryMaxCount  int
	RetryBatchSize int
	LogTimezone    string
}

func LoadConfig(service string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{ServiceName: service}

	httpPort, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.HTTPPort = httpPort

	metricsPort, err := getEnvInt("METRICS_PORT", httpPort+1000)
	if err != nil {
		return nil, err
	}
	cfg.MetricsPort = metricsPort

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	} else {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	cfg.RequestTopic = getEnv("SMS_REQUEST_TOPIC", "sms.requests")
	cfg.DeliveryEventsTopic = getEnv("DELIVERY_EVENTS_TOPIC", "sms.delivery.events")
	cfg.DLQTopic = getEnv("DLQ_TOPIC", "dlq.sms.requests")

	sms := SMSConfig{
		GatewayURL:  getEnv("SMS_GATEWAY_URL", "https://www.fast2sms.com/dev/bulkV2"),
		APIKey:      os.Getenv("SMS_API_KEY"),
		SenderID:    os.Getenv("SMS_SENDER_ID"),
		EntityID:    os.Getenv("SMS_ENTITY_ID"),
		LogTimezone: getEnv("SMS_LOG_TIMEZONE", "UTC"),
	}
	if sms.MaxAttempts, err = getEnvInt("SMS_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if sms.RetryDelay, err = getEnvDuration("SMS_RETRY_DELAY", 5*time.Second); err != nil {
		return nil, err
	}
	if sms.RequestTimeout, err = getEnvDuration("SMS_REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if sms.RetryMaxCount, err = getEnvInt("SMS_RETRY_MAX_COUNT", 3); err != nil {
		return nil, err
	}
	if sms.RetryBatchSize, err = getEnvInt("SMS_RETRY_BATCH_LIMIT", 50); err != nil {
		return nil, err
	}
	cfg.SMS = sms

	return cfg, nil
}

// Validate checks the delivery policy. Gateway credentials are only required
// when requireGateway is set, so read-only tools can run without them.
func (c *Config) Validate(requireGateway bool) error {
	var errs []error
	if c.SMS.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("SMS_MAX_ATTEMPTS must be at least 1, got %d", c.SMS.MaxAttempts))
	}
	if c.SMS.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("SMS_RETRY_DELAY must not be negative, got %s", c.SMS.RetryDelay))
	}
	if c.SMS.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SMS_REQUEST_TIMEOUT must be positive, got %s", c.SMS.RequestTimeout))
	}
	if _, err := time.LoadLocation(c.SMS.LogTimezone); err != nil {
		errs = append(errs, fmt.Errorf("SMS_LOG_TIMEZONE: %w", err))
	}
	if requireGateway {
		if c.SMS.APIKey == "" {
			errs = append(errs, errors.New("SMS_API_KEY must be provided"))
		}
		if c.SMS.SenderID == "" {
			errs = append(errs, errors.New("SMS_SENDER_ID must be provided"))
		}
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}
