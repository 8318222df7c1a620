package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/richxcame/driver-agent/pkg/validation"
)

// Config holds all agent configuration
type Config struct {
	Server     ServerConfig
	Backend    BackendConfig
	Redis      RedisConfig
	Trip       TripConfig
	Navigation NavigationConfig
	Routing    RoutingConfig
	Resilience ResilienceConfig
	Tracing    TracingConfig
	Proof      ProofConfig
}

// ServerConfig holds the local bridge server configuration
type ServerConfig struct {
	Port        string `validate:"required"`
	Environment string `validate:"oneof=development staging production test"`
	ServiceName string
	CORSOrigins string // Comma-separated list of allowed origins
}

// BackendConfig describes the remote REST and realtime endpoints
type BackendConfig struct {
	APIBaseURL        string        `validate:"required,url"`
	RealtimeTransport string        `validate:"oneof=websocket nats none"`
	WebSocketURL      string
	NATSURL           string
	HTTPTimeout       time.Duration `validate:"gt=0"`
	DriverID          string
}

// RedisConfig holds Redis configuration. An empty host selects the in-memory store.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Prefix   string
}

// TripConfig tunes the trip orchestrator timers
type TripConfig struct {
	CandidateExpiry       time.Duration `validate:"gt=0"`
	PollInterval          time.Duration `validate:"gt=0"`
	ArrivalGraceDelay     time.Duration `validate:"gte=0"`
	ArrivedEscalation     time.Duration `validate:"gt=0"`
	DestinationEscalation time.Duration `validate:"gt=0"`

	// KeepAvailableDuringTrip keeps isAvailable untouched when a trip is accepted.
	KeepAvailableDuringTrip bool
}

// NavigationConfig tunes the live navigation reconciler
type NavigationConfig struct {
	ArrivalThresholdMeters float64       `validate:"gt=0"`
	UIMinDistanceMeters    float64       `validate:"gte=0"`
	UIMinInterval          time.Duration `validate:"gt=0"`
	RemoteMinInterval      time.Duration `validate:"gt=0"`
	ArrivalCheckInterval   time.Duration `validate:"gte=0"`
	RouteRecalcMeters      float64       `validate:"gt=0"`
	RouteRecalcInterval    time.Duration `validate:"gt=0"`
	HistoryLength          int           `validate:"gt=0"`
}

// RoutingConfig selects the directions provider
type RoutingConfig struct {
	Provider     string `validate:"oneof=google osrm"`
	GoogleAPIKey string
	OSRMURL      string
	CacheTTL     time.Duration
}

// ResilienceConfig groups runtime resilience controls
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig captures default and per-service breaker tuning
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	TimeoutSeconds   int
	IntervalSeconds  int
	ServiceOverrides map[string]CircuitBreakerSettings
}

// CircuitBreakerSettings overrides defaults for a specific upstream service
type CircuitBreakerSettings struct {
	FailureThreshold int `json:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold"`
	TimeoutSeconds   int `json:"timeout_seconds"`
	IntervalSeconds  int `json:"interval_seconds"`
}

// TracingConfig configures the OTLP exporter
type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SampleRate   float64 `validate:"gte=0,lte=1"`
}

// ProofConfig configures delivery proof photo uploads
type ProofConfig struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string // S3-compatible endpoint, e.g. MinIO
	AccessKeyID     string
	SecretAccessKey string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8787"),
			Environment: getEnv("ENVIRONMENT", "development"),
			ServiceName: serviceName,
			CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Backend: BackendConfig{
			APIBaseURL:        getEnv("API_BASE_URL", "http://localhost:8080"),
			RealtimeTransport: getEnv("REALTIME_TRANSPORT", "websocket"),
			WebSocketURL:      getEnv("WS_URL", "ws://localhost:8080/ws"),
			NATSURL:           getEnv("NATS_URL", "nats://localhost:4222"),
			HTTPTimeout:       getEnvAsSeconds("HTTP_CLIENT_TIMEOUT", 15),
			DriverID:          getEnv("DRIVER_ID", ""),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "driver-agent"),
		},
		Trip: TripConfig{
			CandidateExpiry:         getEnvAsMillis("CANDIDATE_EXPIRY_MS", 20000),
			PollInterval:            getEnvAsMillis("CANDIDATE_POLL_INTERVAL_MS", 15000),
			ArrivalGraceDelay:       getEnvAsMillis("ARRIVAL_GRACE_DELAY_MS", 3000),
			ArrivedEscalation:       getEnvAsMillis("ARRIVED_ESCALATION_MS", 30000),
			DestinationEscalation:   getEnvAsMillis("DESTINATION_ESCALATION_MS", 45000),
			KeepAvailableDuringTrip: getEnvAsBool("KEEP_AVAILABLE_DURING_TRIP", false),
		},
		Navigation: NavigationConfig{
			ArrivalThresholdMeters: getEnvAsFloat("ARRIVAL_THRESHOLD_METERS", 30),
			UIMinDistanceMeters:    getEnvAsFloat("UI_MIN_DISTANCE_METERS", 5),
			UIMinInterval:          getEnvAsMillis("UI_MIN_INTERVAL_MS", 2000),
			RemoteMinInterval:      getEnvAsMillis("REMOTE_MIN_INTERVAL_MS", 10000),
			ArrivalCheckInterval:   getEnvAsMillis("ARRIVAL_CHECK_INTERVAL_MS", 5000),
			RouteRecalcMeters:      getEnvAsFloat("ROUTE_RECALC_METERS", 50),
			RouteRecalcInterval:    getEnvAsMillis("ROUTE_RECALC_INTERVAL_MS", 30000),
			HistoryLength:          getEnvAsInt("LOCATION_HISTORY_LENGTH", 20),
		},
		Routing: RoutingConfig{
			Provider:     getEnv("ROUTING_PROVIDER", "osrm"),
			GoogleAPIKey: getEnv("GOOGLE_MAPS_API_KEY", ""),
			OSRMURL:      getEnv("OSRM_URL", "https://router.project-osrm.org"),
			CacheTTL:     getEnvAsSeconds("ROUTE_CACHE_TTL_SECONDS", 300),
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          getEnvAsBool("CB_ENABLED", true),
				FailureThreshold: getEnvAsInt("CB_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvAsInt("CB_SUCCESS_THRESHOLD", 1),
				TimeoutSeconds:   getEnvAsInt("CB_TIMEOUT_SECONDS", 30),
				IntervalSeconds:  getEnvAsInt("CB_INTERVAL_SECONDS", 60),
			},
		},
		Tracing: TracingConfig{
			Enabled:      getEnvAsBool("TRACING_ENABLED", false),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvAsFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		Proof: ProofConfig{
			Bucket:          getEnv("PROOF_BUCKET", ""),
			Region:          getEnv("PROOF_REGION", "us-east-1"),
			Prefix:          getEnv("PROOF_PREFIX", "delivery-proof"),
			Endpoint:        getEnv("PROOF_ENDPOINT", ""),
			AccessKeyID:     getEnv("PROOF_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("PROOF_SECRET_ACCESS_KEY", ""),
		},
	}

	if breakerOverrides := getEnv("CB_SERVICE_OVERRIDES", ""); breakerOverrides != "" {
		var serviceConfig map[string]CircuitBreakerSettings
		if err := json.Unmarshal([]byte(breakerOverrides), &serviceConfig); err != nil {
			return nil, fmt.Errorf("invalid CB_SERVICE_OVERRIDES value: %w", err)
		}
		cfg.Resilience.CircuitBreaker.ServiceOverrides = serviceConfig
	}

	if cfg.Navigation.RemoteMinInterval < cfg.Navigation.UIMinInterval {
		// remote pushes are never more frequent than UI updates
		cfg.Navigation.RemoteMinInterval = cfg.Navigation.UIMinInterval
	}

	if cfg.Trip.DestinationEscalation < cfg.Trip.ArrivedEscalation {
		cfg.Trip.DestinationEscalation = cfg.Trip.ArrivedEscalation
	}

	if err := validation.ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SettingsFor returns effective breaker settings for a specific upstream service name
func (c CircuitBreakerConfig) SettingsFor(service string) CircuitBreakerSettings {
	settings := CircuitBreakerSettings{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		TimeoutSeconds:   c.TimeoutSeconds,
		IntervalSeconds:  c.IntervalSeconds,
	}

	if override, ok := c.ServiceOverrides[service]; ok {
		if override.FailureThreshold > 0 {
			settings.FailureThreshold = override.FailureThreshold
		}
		if override.SuccessThreshold > 0 {
			settings.SuccessThreshold = override.SuccessThreshold
		}
		if override.TimeoutSeconds > 0 {
			settings.TimeoutSeconds = override.TimeoutSeconds
		}
		if override.IntervalSeconds > 0 {
			settings.IntervalSeconds = override.IntervalSeconds
		}
	}

	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 1
	}
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.TimeoutSeconds <= 0 {
		settings.TimeoutSeconds = 30
	}
	if settings.IntervalSeconds <= 0 {
		settings.IntervalSeconds = 60
	}

	return settings
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Enabled reports whether a Redis host was configured.
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// AllowedOrigins splits the CORS origin list.
func (c ServerConfig) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}

func getEnvAsSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Second
}
