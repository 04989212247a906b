package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_PORT", "METRICS_PORT", "SMS_MAX_ATTEMPTS", "SMS_RETRY_DELAY", "SMS_REQUEST_TIMEOUT", "KAFKA_BROKERS", "SMS_GATEWAY_URL"} {
		t.Setenv(k, "")
	}

	cfg, err := LoadConfig("notifier")
	require.NoError(t, err)
	assert.Equal(t, "notifier", cfg.ServiceName)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9080, cfg.MetricsPort)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.SMS.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.SMS.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.SMS.RequestTimeout)
	assert.Equal(t, "https://www.fast2sms.com/dev/bulkV2", cfg.SMS.GatewayURL)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SMS_MAX_ATTEMPTS", "5")
	t.Setenv("SMS_RETRY_DELAY", "250ms")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := LoadConfig("notifier")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.SMS.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.SMS.RetryDelay)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	t.Setenv("SMS_RETRY_DELAY", "five")
	_, err := LoadConfig("notifier")
	assert.Error(t, err)

	t.Setenv("SMS_RETRY_DELAY", "")
	t.Setenv("HTTP_PORT", "http")
	_, err = LoadConfig("notifier")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{SMS: SMSConfig{MaxAttempts: 3, RetryDelay: time.Second, RequestTimeout: time.Second, LogTimezone: "UTC"}}
	assert.NoError(t, cfg.Validate(false))
	assert.Error(t, cfg.Validate(true))

	cfg.SMS.APIKey = "k"
	cfg.SMS.SenderID = "LOCKER"
	assert.NoError(t, cfg.Validate(true))

	cfg.SMS.MaxAttempts = 0
	cfg.SMS.LogTimezone = "Mars/Olympus"
	err := cfg.Validate(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMS_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "SMS_LOG_TIMEZONE")
}
