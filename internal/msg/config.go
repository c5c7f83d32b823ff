package msg

import (
	"os"
	"strings"
)

// Config holds Kafka configuration
type Config struct {
	Brokers  []string
	ClientID string
}

// Topic names
const (
	TopicIOICommands = "ioi.commands"
	TopicIOIOutcomes = "ioi.outcomes"
	TopicIOIData     = "ioi.data"
)

// LoadConfig loads Kafka configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Brokers:  ParseBrokers(getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092")),
		ClientID: getEnvAsString("KAFKA_CLIENT_ID", "ioi-session-client"),
	}
}

// ParseBrokers splits a comma separated broker list, dropping blanks
func ParseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
