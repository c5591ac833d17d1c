package config

import (
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dispatch.InitialRadiusKm != 5 || cfg.Dispatch.ExpandedRadiusKm != 7 {
		t.Fatalf("bad radius defaults: %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.PhaseTimeout != 30*time.Second {
		t.Fatalf("bad phase timeout: %v", cfg.Dispatch.PhaseTimeout)
	}
	if cfg.Scorer.FallbackRating != 4.5 || cfg.Scorer.FallbackCompletion != 0.85 {
		t.Fatalf("bad scorer fallbacks: %+v", cfg.Scorer)
	}
}

func TestLoadServerConfigOverridesAndValidation(t *testing.T) {
	t.Setenv("DISPATCH_PHASE_TIMEOUT", "10s")
	t.Setenv("DISPATCH_INITIAL_RADIUS_KM", "3")
	t.Setenv("SCORER_TOP_N", "5")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dispatch.PhaseTimeout != 10*time.Second || cfg.Dispatch.InitialRadiusKm != 3 || cfg.Scorer.TopN != 5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	t.Setenv("DISPATCH_EXPANDED_RADIUS_KM", "2")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected validation error for shrinking radius")
	}

	t.Setenv("DISPATCH_EXPANDED_RADIUS_KM", "not-a-number")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConsumerConfig(t *testing.T) {
	cfg := LoadConsumerConfig()
	if cfg.RedisAddr != "localhost:6379" || cfg.RedisGeoKey != "drivers_geo" {
		t.Fatalf("bad redis defaults: %+v", cfg)
	}
	if cfg.KafkaTopic != "driver-presence" || cfg.KafkaGroup != "ride-dispatch-consumer" {
		t.Fatalf("bad kafka defaults: %+v", cfg)
	}

	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("REDIS_GEO_KEY", "drivers_geo_v2")
	t.Setenv("KAFKA_BROKER", "kafka-1:9092, kafka-2:9092")
	cfg = LoadConsumerConfig()
	if cfg.RedisAddr != "redis.internal:6380" || cfg.RedisGeoKey != "drivers_geo_v2" {
		t.Fatalf("redis overrides not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("broker list not parsed: %v", cfg.KafkaBrokers)
	}
}
