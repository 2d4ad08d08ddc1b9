package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Dispatch DispatchConfig
	Routing  RoutingConfig
	Pricing  PricingConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// DispatchConfig holds driver search and offer timing configuration.
type DispatchConfig struct {
	SearchRadiusKm   float64
	WidenFactor      float64
	WidenRetries     int
	OfferTimeout     time.Duration
	SearchTimeout    time.Duration
	DisconnectPolicy string
}

// Disconnect policies applied to MATCHED and STARTED rides when the
// assigned driver's connection drops.
const (
	DisconnectHold   = "hold"
	DisconnectCancel = "cancel"
)

// AuthConfig holds API authentication configuration. StaticTokens is a
// comma-separated list of token:party pairs, e.g. "tok1:rider-1,tok2:d-9".
type AuthConfig struct {
	Enabled      bool
	StaticTokens string
}

// RoutingConfig holds external routing and geocoding endpoints.
type RoutingConfig struct {
	OSRMBaseURL      string
	NominatimBaseURL string
	UserAgent        string
	HTTPTimeout      time.Duration
}

// VehicleRate prices one vehicle type.
type VehicleRate struct {
	Base    float64
	PerKm   float64
	PerMin  float64
	Minimum float64
}

// PricingConfig holds per-vehicle fare rates.
type PricingConfig struct {
	Car  VehicleRate
	Moto VehicleRate
	Auto VehicleRate
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "dispatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "dispatch-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Dispatch: DispatchConfig{
			SearchRadiusKm:   getFloatEnv("DISPATCH_SEARCH_RADIUS_KM", 3),
			WidenFactor:      getFloatEnv("DISPATCH_WIDEN_FACTOR", 2.0),
			WidenRetries:     getIntEnv("DISPATCH_WIDEN_RETRIES", 1),
			OfferTimeout:     getDurationEnv("DISPATCH_OFFER_TIMEOUT", 15*time.Second),
			SearchTimeout:    getDurationEnv("DISPATCH_SEARCH_TIMEOUT", 60*time.Second),
			DisconnectPolicy: getEnv("DISPATCH_DISCONNECT_POLICY", DisconnectHold),
		},
		Auth: AuthConfig{
			Enabled:      getBoolEnv("AUTH_ENABLED", false),
			StaticTokens: getEnv("AUTH_STATIC_TOKENS", ""),
		},
		Routing: RoutingConfig{
			OSRMBaseURL:      getEnv("OSRM_BASE_URL", "http://router.project-osrm.org"),
			NominatimBaseURL: getEnv("NOMINATIM_BASE_URL", "https://nominatim.openstreetmap.org"),
			UserAgent:        getEnv("ROUTING_USER_AGENT", "dispatch-service/1.0"),
			HTTPTimeout:      getDurationEnv("ROUTING_HTTP_TIMEOUT", 5*time.Second),
		},
		Pricing: PricingConfig{
			Car: VehicleRate{
				Base:    getFloatEnv("PRICING_CAR_BASE", 50),
				PerKm:   getFloatEnv("PRICING_CAR_PER_KM", 15),
				PerMin:  getFloatEnv("PRICING_CAR_PER_MIN", 2),
				Minimum: getFloatEnv("PRICING_CAR_MINIMUM", 80),
			},
			Moto: VehicleRate{
				Base:    getFloatEnv("PRICING_MOTO_BASE", 20),
				PerKm:   getFloatEnv("PRICING_MOTO_PER_KM", 7),
				PerMin:  getFloatEnv("PRICING_MOTO_PER_MIN", 1),
				Minimum: getFloatEnv("PRICING_MOTO_MINIMUM", 30),
			},
			Auto: VehicleRate{
				Base:    getFloatEnv("PRICING_AUTO_BASE", 30),
				PerKm:   getFloatEnv("PRICING_AUTO_PER_KM", 10),
				PerMin:  getFloatEnv("PRICING_AUTO_PER_MIN", 1.5),
				Minimum: getFloatEnv("PRICING_AUTO_MINIMUM", 50),
			},
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
