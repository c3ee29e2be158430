package testsupport

import "testing"

func TestLoadIntegrationConfigsFromEnv(t *testing.T) {
	t.Setenv("CLICKHOUSE_HOST", "click")
	t.Setenv("CLICKHOUSE_DB", "analytics")
	t.Setenv("CLICKHOUSE_PORT", "8123")

	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")

	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := LoadIntegrationConfigsFromEnv(t)

	if cfg.ClickHouse.Host != "click" || cfg.ClickHouse.Port != 8123 || cfg.ClickHouse.User != "default" {
		t.Fatalf("unexpected clickhouse config %+v", cfg.ClickHouse)
	}

	if cfg.Redis.Host != "redis" || cfg.Redis.Port != 6380 || cfg.Redis.DB != 2 {
		t.Fatalf("unexpected redis config %+v", cfg.Redis)
	}

	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected kafka config %+v", cfg.Kafka)
	}
}

func TestIntValueFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_PORT", "abc")
	if got := intValue("SOME_PORT", 42); got != 42 {
		t.Fatalf("expected fallback, got %d", got)
	}
}
