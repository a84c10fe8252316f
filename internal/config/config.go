package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	PushEndpoint string
	PushKey      string

	Fees     FeeConfig
	Dispatch DispatchConfig

	LogLevel      string
	RunMigrations bool
}

// FeeConfig mirrors the fee schedule; see internal/fees.
type FeeConfig struct {
	FreeDeliveryThreshold float64
	BaseDeliveryFee       float64
	PerKmRate             float64
	PlatformFeeRate       float64
	TaxRate               float64
}

// DispatchConfig tunes partner selection and the retry machinery.
type DispatchConfig struct {
	RadiusScheduleKm []float64
	CandidateLimit   int
	AssignTimeout    time.Duration
	RejectCooldown   time.Duration
	RetryInterval    time.Duration
	NotifyTimeout    time.Duration
	DefaultSpeedMps  float64
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "partners_geo",
		KafkaTopic:      "partner-locations",
		Fees: FeeConfig{
			FreeDeliveryThreshold: 500,
			BaseDeliveryFee:       40,
			PerKmRate:             8,
			PlatformFeeRate:       0.05,
			TaxRate:               0.18,
		},
		Dispatch: DispatchConfig{
			RadiusScheduleKm: []float64{3, 5, 10},
			CandidateLimit:   8,
			AssignTimeout:    30 * time.Second,
			RejectCooldown:   10 * time.Minute,
			RetryInterval:    2 * time.Minute,
			NotifyTimeout:    5 * time.Second,
			DefaultSpeedMps:  10,
		},
		LogLevel: "info",
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

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	cfg.PushKey = os.Getenv("PUSH_KEY")

	setFloatFromEnv(&cfg.Fees.FreeDeliveryThreshold, "FEE_FREE_DELIVERY_THRESHOLD", &errs)
	setFloatFromEnv(&cfg.Fees.BaseDeliveryFee, "FEE_BASE_DELIVERY", &errs)
	setFloatFromEnv(&cfg.Fees.PerKmRate, "FEE_PER_KM_RATE", &errs)
	setFloatFromEnv(&cfg.Fees.PlatformFeeRate, "FEE_PLATFORM_RATE", &errs)
	setFloatFromEnv(&cfg.Fees.TaxRate, "FEE_TAX_RATE", &errs)

	if v := os.Getenv("DISPATCH_RADIUS_SCHEDULE_KM"); v != "" {
		sched, err := parseFloats(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DISPATCH_RADIUS_SCHEDULE_KM: %w", err))
		} else {
			cfg.Dispatch.RadiusScheduleKm = sched
		}
	}
	setIntFromEnv(&cfg.Dispatch.CandidateLimit, "DISPATCH_CANDIDATE_LIMIT", &errs)
	setDurationFromEnv(&cfg.Dispatch.AssignTimeout, "DISPATCH_ASSIGN_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.Dispatch.RejectCooldown, "DISPATCH_REJECT_COOLDOWN", &errs)
	setDurationFromEnv(&cfg.Dispatch.RetryInterval, "DISPATCH_RETRY_INTERVAL", &errs)
	setDurationFromEnv(&cfg.Dispatch.NotifyTimeout, "DISPATCH_NOTIFY_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.Dispatch.DefaultSpeedMps, "DISPATCH_DEFAULT_SPEED_MPS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.Dispatch.CandidateLimit <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_CANDIDATE_LIMIT must be > 0"))
	}
	if len(cfg.Dispatch.RadiusScheduleKm) == 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_RADIUS_SCHEDULE_KM must not be empty"))
	}
	if cfg.Fees.PlatformFeeRate < 0 || cfg.Fees.TaxRate < 0 {
		errs = append(errs, fmt.Errorf("fee rates must be non-negative"))
	}

	return cfg, errors.Join(errs...)
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

func parseFloats(v string) ([]float64, error) {
	parts := splitAndTrim(v)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
