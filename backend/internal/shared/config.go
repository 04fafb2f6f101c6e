// ============================================================================
// backend/internal/shared/config.go
// Service configuration and environment variable helpers
// ============================================================================

package shared

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ============================================================================
// Configuration Structs
// ============================================================================

// ServiceConfig holds the configuration of the portal server
type ServiceConfig struct {
	ServiceName string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error

	// Storage driver: "mongo" (default) or "memory"
	StorageDriver string

	MongoDB  MongoConfig
	Redis    RedisConfig
	HTTP     HTTPConfig
	GRPC     GRPCConfig
	CORS     CORSConfig
	Security SecurityConfig
	Push     PushConfig
}

// HTTPConfig holds the HTTP gateway listener configuration
type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// GRPCConfig holds the health/reflection listener configuration
type GRPCConfig struct {
	Port    string
	Enabled bool
}

// RedisConfig holds the grade view cache configuration.
// An empty Addr disables caching.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	JWTSecret          string
	JWTExpirationHours int
	BCryptCost         int // BCrypt hashing cost (10-12 recommended)
}

// PushConfig holds push delivery configuration
type PushConfig struct {
	Transport   string        // "websocket" (default) or "log"
	SendTimeout time.Duration // per push attempt, detached from the request
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int // in seconds
}

// ============================================================================
// Configuration Loading Functions
// ============================================================================

// LoadEnv loads environment variables from a .env file.
// A missing file is not fatal; the system environment is used instead.
func LoadEnv(envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}
	return godotenv.Load(envFile)
}

// LoadServiceConfig loads the service configuration from environment
func LoadServiceConfig(serviceName string) (*ServiceConfig, error) {
	config := &ServiceConfig{
		ServiceName:   serviceName,
		Environment:   GetEnv("ENVIRONMENT", "development"),
		LogLevel:      GetEnv("LOG_LEVEL", "info"),
		StorageDriver: GetEnv("STORAGE_DRIVER", "mongo"),
	}

	config.MongoDB = MongoConfig{
		URI:            GetEnv("MONGO_URI", ""),
		Database:       GetEnv("MONGO_DB_NAME", "SchoolPortal"),
		ConnectTimeout: GetDurationEnv("MONGO_CONNECT_TIMEOUT", 20*time.Second),
		MaxPoolSize:    uint64(GetIntEnv("MONGO_MAX_POOL_SIZE", 50)),
		MinPoolSize:    uint64(GetIntEnv("MONGO_MIN_POOL_SIZE", 10)),
		MaxIdleTime:    GetDurationEnv("MONGO_MAX_IDLE_TIME", 30*time.Second),
	}

	config.Redis = RedisConfig{
		Addr:     GetEnv("REDIS_ADDR", ""),
		Password: GetEnv("REDIS_PASSWORD", ""),
		DB:       GetIntEnv("REDIS_DB", 0),
		TTL:      GetDurationEnv("GRADE_CACHE_TTL", 10*time.Minute),
	}

	config.HTTP = HTTPConfig{
		Port:            GetEnv("HTTP_PORT", DefaultHTTPPort),
		ReadTimeout:     GetDurationEnv("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    GetDurationEnv("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     GetDurationEnv("HTTP_IDLE_TIMEOUT", 60*time.Second),
		RequestTimeout:  GetDurationEnv("HTTP_REQUEST_TIMEOUT", 60*time.Second),
		ShutdownTimeout: GetDurationEnv("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	config.GRPC = GRPCConfig{
		Port:    GetEnv("GRPC_HEALTH_PORT", DefaultGRPCHealthPort),
		Enabled: GetBoolEnv("GRPC_HEALTH_ENABLED", true),
	}

	config.Security = SecurityConfig{
		JWTSecret:          GetEnv("JWT_SECRET", ""),
		JWTExpirationHours: GetIntEnv("JWT_EXPIRATION_HOURS", 24),
		BCryptCost:         GetIntEnv("BCRYPT_COST", 10),
	}
	if config.Security.JWTSecret == "" && !IsProduction(config) {
		config.Security.JWTSecret = "development-only-secret"
	}

	config.Push = PushConfig{
		Transport:   GetEnv("PUSH_TRANSPORT", "websocket"),
		SendTimeout: GetDurationEnv("PUSH_SEND_TIMEOUT", 5*time.Second),
	}

	config.CORS = CORSConfig{
		AllowedOrigins:   GetStringSliceEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		AllowedMethods:   GetStringSliceEnv("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}),
		AllowedHeaders:   GetStringSliceEnv("CORS_ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"}),
		AllowCredentials: GetBoolEnv("CORS_ALLOW_CREDENTIALS", true),
		MaxAge:           GetIntEnv("CORS_MAX_AGE", 300),
	}

	if err := ValidateServiceConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ============================================================================
// Environment Variable Helper Functions
// ============================================================================

// GetEnv retrieves an environment variable or returns a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetIntEnv retrieves an integer environment variable or returns a default value
func GetIntEnv(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetBoolEnv retrieves a boolean environment variable or returns a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetDurationEnv retrieves a duration environment variable or returns a default value
// Supports format like "30s", "5m", "1h"
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetStringSliceEnv retrieves a comma-separated string list or returns a default value
func GetStringSliceEnv(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// ============================================================================
// Configuration Validation
// ============================================================================

// ValidateServiceConfig validates service configuration
func ValidateServiceConfig(config *ServiceConfig) error {
	if config.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	switch config.StorageDriver {
	case StorageMongo:
		if config.MongoDB.URI == "" {
			return fmt.Errorf("MONGO_URI environment variable is required")
		}
		if config.MongoDB.Database == "" {
			return fmt.Errorf("MongoDB database name is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", config.StorageDriver)
	}

	if config.HTTP.Port == "" {
		return fmt.Errorf("HTTP port is required")
	}

	if config.Security.JWTSecret == "" && IsProduction(config) {
		return fmt.Errorf("JWT_SECRET environment variable is required in production")
	}

	switch config.Push.Transport {
	case PushWebsocket, PushLog:
	default:
		return fmt.Errorf("unknown push transport %q", config.Push.Transport)
	}

	return nil
}

// ============================================================================
// Environment-Specific Configuration
// ============================================================================

const (
	DefaultHTTPPort       = "8080"
	DefaultGRPCHealthPort = "50060"

	StorageMongo  = "mongo"
	StorageMemory = "memory"

	PushWebsocket = "websocket"
	PushLog       = "log"
)

// IsDevelopment checks if running in development environment
func IsDevelopment(config *ServiceConfig) bool {
	return config.Environment == "development"
}

// IsProduction checks if running in production environment
func IsProduction(config *ServiceConfig) bool {
	return config.Environment == "production"
}

// GetLogLevel returns the configured log level
func GetLogLevel(config *ServiceConfig) string {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if validLevels[config.LogLevel] {
		return config.LogLevel
	}
	return "info"
}
