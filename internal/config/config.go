package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	Dispatch DispatchConfig
	Scorer   ScorerConfig

	PresenceTTL           time.Duration
	PresenceSweepInterval time.Duration

	StripeEnabled bool
	FareCurrency  string

	LogLevel      string
	RunMigrations bool
}

// DispatchConfig holds the phase protocol constants.
type DispatchConfig struct {
	InitialRadiusKm  float64
	ExpandedRadiusKm float64
	PhaseTimeout     time.Duration
	BatchSize        int
	DriverSpeedMps   float64
}

// ScorerConfig holds the ranking weights and fallback defaults. The weights
// were hard-coded once; keeping them here keeps the algorithm testable with
// controlled inputs.
type ScorerConfig struct {
	WeightDistance     float64
	WeightRating       float64
	WeightCompletion   float64
	WeightComfort      float64
	FallbackRating     float64
	FallbackCompletion float64
	TopN               int
	FareBase           float64
	FarePerKm          float64
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		KafkaTopic:      "driver-presence",
		Dispatch: DispatchConfig{
			InitialRadiusKm:  5,
			ExpandedRadiusKm: 7,
			PhaseTimeout:     30 * time.Second,
			BatchSize:        3,
			DriverSpeedMps:   10,
		},
		Scorer: ScorerConfig{
			WeightDistance:     0.6,
			WeightRating:       0.2,
			WeightCompletion:   0.1,
			WeightComfort:      0.1,
			FallbackRating:     4.5,
			FallbackCompletion: 0.85,
			TopN:               10,
			FareBase:           2.5,
			FarePerKm:          1.2,
		},
		PresenceTTL:           10 * time.Minute,
		PresenceSweepInterval: time.Minute,
		FareCurrency:          "usd",
		LogLevel:              "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.Dispatch.InitialRadiusKm, "DISPATCH_INITIAL_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.Dispatch.ExpandedRadiusKm, "DISPATCH_EXPANDED_RADIUS_KM", &errs)
	setDurationFromEnv(&cfg.Dispatch.PhaseTimeout, "DISPATCH_PHASE_TIMEOUT", &errs)
	setIntFromEnv(&cfg.Dispatch.BatchSize, "DISPATCH_BATCH_SIZE", &errs)
	setFloatFromEnv(&cfg.Dispatch.DriverSpeedMps, "DISPATCH_DRIVER_SPEED_MPS", &errs)

	setFloatFromEnv(&cfg.Scorer.WeightDistance, "SCORER_WEIGHT_DISTANCE", &errs)
	setFloatFromEnv(&cfg.Scorer.WeightRating, "SCORER_WEIGHT_RATING", &errs)
	setFloatFromEnv(&cfg.Scorer.WeightCompletion, "SCORER_WEIGHT_COMPLETION", &errs)
	setFloatFromEnv(&cfg.Scorer.WeightComfort, "SCORER_WEIGHT_COMFORT", &errs)
	setFloatFromEnv(&cfg.Scorer.FallbackRating, "SCORER_FALLBACK_RATING", &errs)
	setFloatFromEnv(&cfg.Scorer.FallbackCompletion, "SCORER_FALLBACK_COMPLETION", &errs)
	setIntFromEnv(&cfg.Scorer.TopN, "SCORER_TOP_N", &errs)
	setFloatFromEnv(&cfg.Scorer.FareBase, "FARE_BASE", &errs)
	setFloatFromEnv(&cfg.Scorer.FarePerKm, "FARE_PER_KM", &errs)

	setDurationFromEnv(&cfg.PresenceTTL, "PRESENCE_TTL", &errs)
	setDurationFromEnv(&cfg.PresenceSweepInterval, "PRESENCE_SWEEP_INTERVAL", &errs)

	cfg.StripeEnabled = os.Getenv("STRIPE_API_KEY") != ""
	setStringFromEnv(&cfg.FareCurrency, "FARE_CURRENCY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.Dispatch.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_BATCH_SIZE must be > 0"))
	}
	if cfg.Scorer.TopN <= 0 {
		errs = append(errs, fmt.Errorf("SCORER_TOP_N must be > 0"))
	}
	if cfg.Dispatch.ExpandedRadiusKm < cfg.Dispatch.InitialRadiusKm {
		errs = append(errs, fmt.Errorf("DISPATCH_EXPANDED_RADIUS_KM must be >= DISPATCH_INITIAL_RADIUS_KM"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig covers the presence-mirror binary: where it consumes from,
// where it mirrors to, and where it serves metrics.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
}

func defaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-presence",
		KafkaGroup:   "ride-dispatch-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "drivers_geo",
	}
}

func LoadConsumerConfig() ConsumerConfig {
	cfg := defaultConsumerConfig()
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	return cfg
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
