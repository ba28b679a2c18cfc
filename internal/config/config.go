package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Kafka         KafkaConfig         `json:"kafka"`
	Neo4j         Neo4jConfig         `json:"neo4j"`
	Triage        TriageConfig        `json:"triage"`
	Similarity    SimilarityConfig    `json:"similarity"`
	Escalation    EscalationConfig    `json:"escalation"`
	Notifications NotificationConfig  `json:"notifications"`
	Logging       LoggingConfig       `json:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort int  `json:"http_port"`
	Debug    bool `json:"debug"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	MigrationsPath  string        `json:"migrations_path"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers            []string      `json:"brokers"`
	ConsumerGroup      string        `json:"consumer_group"`
	SubmittedTopic     string        `json:"submitted_topic"`
	TriagedTopic       string        `json:"triaged_topic"`
	LinkTopic          string        `json:"link_topic"`
	NotificationTopic  string        `json:"notification_topic"`
	BatchSize          int           `json:"batch_size"`
	BatchTimeout       time.Duration `json:"batch_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	RequiredAcks       int           `json:"required_acks"`
}

// Neo4jConfig holds Neo4j configuration for the link-graph mirror. The
// mirror is optional: with Enabled false the service runs without it and
// graph queries report unavailable.
type Neo4jConfig struct {
	Enabled           bool          `json:"enabled"`
	URI               string        `json:"uri"`
	Username          string        `json:"username"`
	Password          string        `json:"password"`
	Database          string        `json:"database"`
	MaxConnections    int           `json:"max_connections"`
	ConnectionTimeout time.Duration `json:"connection_timeout"`
}

// TriageConfig holds triage engine configuration. OverloadThreshold and
// RedirectLoadRatio govern department load balancing: a default department
// with more than OverloadThreshold open complaints is only abandoned for an
// alternate whose load is below RedirectLoadRatio of the default's.
type TriageConfig struct {
	OverloadThreshold int     `json:"overload_threshold"`
	RedirectLoadRatio float64 `json:"redirect_load_ratio"`
}

// SimilarityConfig holds duplicate detection configuration
type SimilarityConfig struct {
	WindowDays        int           `json:"window_days"`
	Threshold         float64       `json:"threshold"`
	TitleWeight       float64       `json:"title_weight"`
	DescriptionWeight float64       `json:"description_weight"`
	LocationWeight    float64       `json:"location_weight"`
	TimeWeight        float64       `json:"time_weight"`
	CacheEnabled      bool          `json:"cache_enabled"`
	CacheTTL          time.Duration `json:"cache_ttl"`
}

// EscalationConfig holds the overdue-complaint sweep configuration
type EscalationConfig struct {
	Enabled               bool   `json:"enabled"`
	Schedule              string `json:"schedule"`
	OverdueDays           int    `json:"overdue_days"`
	ReminderFrequencyDays int    `json:"reminder_frequency_days"`
}

// NotificationConfig holds notification dispatch configuration
type NotificationConfig struct {
	RatePerMinute int `json:"rate_per_minute"`
	Burst         int `json:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			HTTPPort: getEnvInt("HTTP_PORT", 8084),
			Debug:    getEnvBool("DEBUG", false),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "case_triage"),
			Username:        getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", "password"),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 12),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 2*time.Hour),
			MigrationsPath:  getEnvString("DB_MIGRATIONS_PATH", "file://migrations"),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnvStringSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			ConsumerGroup:     getEnvString("KAFKA_CONSUMER_GROUP", "case-triage-service"),
			SubmittedTopic:    getEnvString("KAFKA_SUBMITTED_TOPIC", "complaints.submitted"),
			TriagedTopic:      getEnvString("KAFKA_TRIAGED_TOPIC", "complaints.triaged"),
			LinkTopic:         getEnvString("KAFKA_LINK_TOPIC", "complaints.linked"),
			NotificationTopic: getEnvString("KAFKA_NOTIFICATION_TOPIC", "notifications.sent"),
			BatchSize:         getEnvInt("KAFKA_BATCH_SIZE", 100),
			BatchTimeout:      getEnvDuration("KAFKA_BATCH_TIMEOUT", 1*time.Second),
			WriteTimeout:      getEnvDuration("KAFKA_WRITE_TIMEOUT", 10*time.Second),
			RequiredAcks:      getEnvInt("KAFKA_REQUIRED_ACKS", 1),
		},
		Neo4j: Neo4jConfig{
			Enabled:           getEnvBool("NEO4J_ENABLED", true),
			URI:               getEnvString("NEO4J_URI", "bolt://localhost:7687"),
			Username:          getEnvString("NEO4J_USERNAME", "neo4j"),
			Password:          getEnvString("NEO4J_PASSWORD", "password"),
			Database:          getEnvString("NEO4J_DATABASE", "neo4j"),
			MaxConnections:    getEnvInt("NEO4J_MAX_CONNECTIONS", 10),
			ConnectionTimeout: getEnvDuration("NEO4J_CONNECTION_TIMEOUT", 30*time.Second),
		},
		Triage: TriageConfig{
			OverloadThreshold: getEnvInt("TRIAGE_OVERLOAD_THRESHOLD", 50),
			RedirectLoadRatio: getEnvFloat("TRIAGE_REDIRECT_LOAD_RATIO", 0.7),
		},
		Similarity: SimilarityConfig{
			WindowDays:        getEnvInt("SIMILARITY_WINDOW_DAYS", 7),
			Threshold:         getEnvFloat("SIMILARITY_THRESHOLD", 70.0),
			TitleWeight:       getEnvFloat("SIMILARITY_TITLE_WEIGHT", 0.4),
			DescriptionWeight: getEnvFloat("SIMILARITY_DESCRIPTION_WEIGHT", 0.3),
			LocationWeight:    getEnvFloat("SIMILARITY_LOCATION_WEIGHT", 0.2),
			TimeWeight:        getEnvFloat("SIMILARITY_TIME_WEIGHT", 0.1),
			CacheEnabled:      getEnvBool("SIMILARITY_CACHE_ENABLED", true),
			CacheTTL:          getEnvDuration("SIMILARITY_CACHE_TTL", 5*time.Minute),
		},
		Escalation: EscalationConfig{
			Enabled:               getEnvBool("ESCALATION_ENABLED", true),
			Schedule:              getEnvString("ESCALATION_SCHEDULE", "0 0 3 * * *"),
			OverdueDays:           getEnvInt("ESCALATION_OVERDUE_DAYS", 14),
			ReminderFrequencyDays: getEnvInt("ESCALATION_REMINDER_FREQUENCY_DAYS", 7),
		},
		Notifications: NotificationConfig{
			RatePerMinute: getEnvInt("NOTIFICATION_RATE_PER_MINUTE", 30),
			Burst:         getEnvInt("NOTIFICATION_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
	}

	return config, config.Validate()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("Kafka brokers are required")
	}

	if c.Neo4j.Enabled && c.Neo4j.URI == "" {
		return fmt.Errorf("Neo4j URI is required")
	}

	if c.Triage.OverloadThreshold <= 0 {
		return fmt.Errorf("triage overload threshold must be positive")
	}

	if c.Triage.RedirectLoadRatio <= 0 || c.Triage.RedirectLoadRatio >= 1 {
		return fmt.Errorf("triage redirect load ratio must be between 0 and 1")
	}

	if c.Similarity.WindowDays <= 0 {
		return fmt.Errorf("similarity window days must be positive")
	}

	if c.Similarity.Threshold < 0 || c.Similarity.Threshold > 100 {
		return fmt.Errorf("similarity threshold must be between 0 and 100")
	}

	weightSum := c.Similarity.TitleWeight + c.Similarity.DescriptionWeight +
		c.Similarity.LocationWeight + c.Similarity.TimeWeight
	if weightSum < 0.999 || weightSum > 1.001 {
		return fmt.Errorf("similarity weights must sum to 1.0, got %.3f", weightSum)
	}

	if c.Escalation.OverdueDays <= 0 {
		return fmt.Errorf("escalation overdue days must be positive")
	}

	return nil
}

// DSN returns the database connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Name, c.SSLMode)
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
