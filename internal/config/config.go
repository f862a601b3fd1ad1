package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ListenAddr  string
	LogLevel    string

	// SessionTTLMinutes is the checkout session deadline. A session that sees
	// no terminal transition within this window is swept to expired.
	SessionTTLMinutes int

	// GatewayConfigSecret derives the AES-GCM key protecting per-tenant
	// gateway credential bundles at rest.
	GatewayConfigSecret string

	SweepIntervalSeconds int
	PollAfterSeconds     int

	CartServiceURL  string
	OrderServiceURL string

	RedisAddr     string
	RedisPassword string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	OTLPEndpoint   string
	OTLPProtocol   string
	MetricsEnabled bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "checkout"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		SessionTTLMinutes:    getenvInt("CHECKOUT_SESSION_TTL_MINUTES", 30),
		GatewayConfigSecret:  strings.TrimSpace(getenv("GATEWAY_CONFIG_SECRET", "")),
		SweepIntervalSeconds: getenvInt("CHECKOUT_SWEEP_INTERVAL_SECONDS", 60),
		PollAfterSeconds:     getenvInt("CHECKOUT_POLL_AFTER_SECONDS", 300),

		CartServiceURL:  getenv("CART_SERVICE_URL", "http://localhost:8081"),
		OrderServiceURL: getenv("ORDER_SERVICE_URL", "http://localhost:8082"),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "checkout"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		OTLPEndpoint:   getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol:   strings.ToLower(getenv("OTLP_PROTOCOL", "grpc")),
		MetricsEnabled: getenvBool("METRICS_ENABLED", false),
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
