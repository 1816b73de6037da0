package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the CleanMadurai service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// Gemini configuration
	GeminiAPIKey    string
	GeminiModel     string
	ClassifyTimeout time.Duration

	// Ward geometry artifact
	WardsGeoJSON string

	// RabbitMQ configuration
	RabbitMQHost             string
	RabbitMQPort             string
	RabbitMQUser             string
	RabbitMQPassword         string
	RabbitMQExchange         string
	RabbitMQTriageQueue      string
	RabbitMQTriageRoutingKey string
	RabbitMQPrefetch         int

	// Auth service
	AuthServiceURL string

	// WhatsApp notification configuration
	WhatsAppToken   string
	WhatsAppPhoneID string

	// Daily background jobs
	AggregatorEnabled bool
	DailyBriefEnabled bool
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "cleanmadurai"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		// Gemini defaults
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		ClassifyTimeout: getDurationEnv("CLASSIFY_TIMEOUT", 30*time.Second),

		// Ward geometry artifact
		WardsGeoJSON: getEnv("WARDS_GEOJSON", "madurai-wards.geojson"),

		// RabbitMQ defaults
		RabbitMQHost:             getEnv("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:             getEnv("RABBITMQ_PORT", "5672"),
		RabbitMQUser:             getEnv("RABBITMQ_USER", "guest"),
		RabbitMQPassword:         getEnv("RABBITMQ_PASSWORD", "guest"),
		RabbitMQExchange:         getEnv("RABBITMQ_EXCHANGE", "cleanmadurai"),
		RabbitMQTriageQueue:      getEnv("RABBITMQ_TRIAGE_QUEUE", "complaint-triage"),
		RabbitMQTriageRoutingKey: getEnv("RABBITMQ_TRIAGE_ROUTING_KEY", "complaint.created"),
		RabbitMQPrefetch:         getIntEnv("RABBITMQ_PREFETCH", 10),

		// Auth service
		AuthServiceURL: getEnv("AUTH_SERVICE_URL", "http://auth-service:8080"),

		// WhatsApp defaults
		WhatsAppToken:   getEnv("WHATSAPP_TOKEN", ""),
		WhatsAppPhoneID: getEnv("WHATSAPP_PHONE_ID", ""),

		// Daily background jobs
		AggregatorEnabled: getBoolEnv("AGGREGATOR_ENABLED", true),
		DailyBriefEnabled: getBoolEnv("DAILY_BRIEF_ENABLED", true),
	}
}

// GetAMQPURL returns the AMQP connection URL
func (c *Config) GetAMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.RabbitMQUser, c.RabbitMQPassword, c.RabbitMQHost, c.RabbitMQPort)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getBoolEnv gets a boolean environment variable or returns a default value
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
