package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Pipeline policy knobs
	Pipeline PipelineConfig `json:"pipeline"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// PipelineConfig holds the triage policy configuration.
type PipelineConfig struct {
	// Monitoring: below this confidence an INVESTIGATE alert defers to
	// REQUEST_MORE_INFO instead of creating a case.
	ConfidenceThreshold float64 `json:"confidenceThreshold"`

	// When true, an escalation signal (KYC unverified, prior fraud)
	// overrides the low-confidence deferral. A known risk signal
	// outranks classifier uncertainty.
	EscalationWins bool `json:"escalationWins"`

	// Classification labels: normalized score boundaries.
	FlaggedThreshold     float64 `json:"flaggedThreshold"`
	InvestigateThreshold float64 `json:"investigateThreshold"`

	// Investigation verdict thresholds on the aggregate evidence score.
	ConfirmedThreshold float64 `json:"confirmedThreshold"`
	SuspectedThreshold float64 `json:"suspectedThreshold"`

	// Feature extraction: destination countries considered high risk.
	RiskCountries []string `json:"riskCountries"`

	// Night window for the time-of-day anomaly, local hours [start, end).
	NightStartHour int `json:"nightStartHour"`
	NightEndHour   int `json:"nightEndHour"`

	// Beneficiary lookback for the new-beneficiary flag.
	BeneficiaryWindow time.Duration `json:"beneficiaryWindow"`

	// Retry bounds for the slow external calls.
	ClassifyTimeout  time.Duration `json:"classifyTimeout"`
	ClassifyAttempts int           `json:"classifyAttempts"`
	SourceAttempts   int           `json:"sourceAttempts"`
	RetryBackoff     time.Duration `json:"retryBackoff"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultPipelineConfig returns the default triage policy.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ConfidenceThreshold:  0.5,
		EscalationWins:       true,
		FlaggedThreshold:     0.7,
		InvestigateThreshold: 0.35,
		ConfirmedThreshold:   1.0,
		SuspectedThreshold:   0.5,
		RiskCountries: []string{
			"North Korea", "Iran", "Syria", "Myanmar", "Yemen",
		},
		NightStartHour:    0,
		NightEndHour:      5,
		BeneficiaryWindow: 90 * 24 * time.Hour,
		ClassifyTimeout:   5 * time.Second,
		ClassifyAttempts:  3,
		SourceAttempts:    3,
		RetryBackoff:      200 * time.Millisecond,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Pipeline: DefaultPipelineConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
