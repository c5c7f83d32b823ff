package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transports a session can run over
const (
	TransportGRPC = "grpc"
	TransportSim  = "sim"
)

// Config holds configuration for all services
type Config struct {
	// Service name
	ServiceName string

	// gRPC server port (gateway)
	GRPCPort int

	// HTTP server port (health and metrics)
	HTTPPort int

	// Log level: debug, info, warn, error
	LogLevel string

	// Session endpoint. With the grpc transport this is the gateway address.
	Host string
	Port int

	// Transport is "grpc" (remote gateway) or "sim" (in-process service)
	Transport string

	RequestService      string
	SubscriptionService string
	AuthService         string

	// Authorization before requests
	AuthRequired bool
	AuthUser     string
	AuthIP       string

	RequestTimeout time.Duration

	// Kafka brokers (comma-separated)
	KafkaBrokers string

	// Directory holding the request journal
	DataDir string

	// Simulated service settings (gateway and sim transport)
	SimAuthorizedUsers       []string
	SimSlowConsumerThreshold int
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig(serviceName string) *Config {
	cfg := &Config{
		ServiceName:              serviceName,
		GRPCPort:                 getEnvAsInt("PORT_GRPC", 8194),
		HTTPPort:                 getEnvAsInt("PORT_HTTP", 8080),
		LogLevel:                 getEnvAsString("LOG_LEVEL", "info"),
		Host:                     getEnvAsString("IOI_HOST", "localhost"),
		Port:                     getEnvAsInt("IOI_PORT", 8194),
		Transport:                strings.ToLower(getEnvAsString("IOI_TRANSPORT", TransportGRPC)),
		RequestService:           getEnvAsString("IOI_REQUEST_SERVICE", "//blp/ioiapi-beta-request"),
		SubscriptionService:      getEnvAsString("IOI_SUBSCRIPTION_SERVICE", "//blp-test/ioisub-beta"),
		AuthService:              getEnvAsString("IOI_AUTH_SERVICE", "//blp/apiauth"),
		AuthRequired:             getEnvAsBool("IOI_AUTH_REQUIRED", false),
		AuthUser:                 getEnvAsString("IOI_AUTH_USER", ""),
		AuthIP:                   getEnvAsString("IOI_AUTH_IP", "0.0.0.0"),
		RequestTimeout:           getEnvAsDuration("IOI_REQUEST_TIMEOUT", 30*time.Second),
		KafkaBrokers:             getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092"),
		DataDir:                  getEnvAsString("DATA_DIR", "./.data"),
		SimAuthorizedUsers:       getEnvAsList("SIM_AUTHORIZED_USERS"),
		SimSlowConsumerThreshold: getEnvAsInt("SIM_SLOW_CONSUMER_THRESHOLD", 1000),
	}

	return cfg
}

// Validate rejects settings no binary can run with
func (c *Config) Validate() error {
	if c.Transport != TransportGRPC && c.Transport != TransportSim {
		return fmt.Errorf("invalid IOI_TRANSPORT %q: want %s or %s", c.Transport, TransportGRPC, TransportSim)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid IOI_PORT %d", c.Port)
	}
	if c.AuthRequired && c.AuthUser == "" {
		return fmt.Errorf("IOI_AUTH_USER is required when IOI_AUTH_REQUIRED is set")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid IOI_REQUEST_TIMEOUT %s", c.RequestTimeout)
	}
	return nil
}

// GRPCAddr returns the gRPC server address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// HTTPAddr returns the HTTP server address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// JournalPath is the SQLite file of the request journal
func (c *Config) JournalPath() string {
	return fmt.Sprintf("%s/%s.db", strings.TrimRight(c.DataDir, "/"), c.ServiceName)
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
