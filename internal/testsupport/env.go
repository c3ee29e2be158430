package testsupport

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"optionsmetrics/internal/adapters/config"
)

// IntegrationConfigs bundles config sections required for integration tests.
type IntegrationConfigs struct {
	ClickHouse config.ClickHouseConfig
	Redis      config.RedisConfig
	Kafka      config.KafkaConfig
}

// ClickHouseConfigFromEnv returns ClickHouse settings or skips the test when CLICKHOUSE_HOST is unset
func ClickHouseConfigFromEnv(t *testing.T) config.ClickHouseConfig {
	t.Helper()
	requireEnv(t, "CLICKHOUSE_HOST", "CLICKHOUSE_DB")

	return config.ClickHouseConfig{
		Enabled:  true,
		Host:     os.Getenv("CLICKHOUSE_HOST"),
		Port:     intValue("CLICKHOUSE_PORT", 9000),
		User:     valueWithDefault("CLICKHOUSE_USER", "default"),
		Password: os.Getenv("CLICKHOUSE_PASSWORD"),
		Database: os.Getenv("CLICKHOUSE_DB"),
	}
}

// RedisConfigFromEnv returns Redis settings or skips the test when REDIS_HOST is unset
func RedisConfigFromEnv(t *testing.T) config.RedisConfig {
	t.Helper()
	requireEnv(t, "REDIS_HOST")

	return config.RedisConfig{
		Enabled:  true,
		Host:     os.Getenv("REDIS_HOST"),
		Port:     intValue("REDIS_PORT", 6379),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       intValue("REDIS_DB", 0),
	}
}

// KafkaConfigFromEnv returns Kafka settings or skips the test when KAFKA_BROKERS is unset
func KafkaConfigFromEnv(t *testing.T) config.KafkaConfig {
	t.Helper()
	requireEnv(t, "KAFKA_BROKERS")

	return config.KafkaConfig{
		Enabled: true,
		Brokers: strings.Split(os.Getenv("KAFKA_BROKERS"), ","),
	}
}

// LoadIntegrationConfigsFromEnv reads every external dependency.
// Tests are skipped when any required environment variable is missing.
func LoadIntegrationConfigsFromEnv(t *testing.T) IntegrationConfigs {
	t.Helper()

	return IntegrationConfigs{
		ClickHouse: ClickHouseConfigFromEnv(t),
		Redis:      RedisConfigFromEnv(t),
		Kafka:      KafkaConfigFromEnv(t),
	}
}

func requireEnv(t *testing.T, keys ...string) {
	t.Helper()

	missing := make([]string, 0)
	for _, key := range keys {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		t.Skipf("integration environment missing, set %v to run", missing)
	}
}

func valueWithDefault(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func intValue(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		_, err := fmt.Sscanf(val, "%d", &parsed)
		if err == nil {
			return parsed
		}
	}

	return fallback
}
