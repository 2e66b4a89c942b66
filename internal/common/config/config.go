// Package config wraps viper with the environment conventions shared by the
// dispatch service binaries.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// JWTConfig holds token verification settings.
type JWTConfig struct {
	Secret string
	Issuer string
}

// KafkaConfig holds broker addresses and consumer group settings.
type KafkaConfig struct {
	Brokers     []string
	GroupPrefix string
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig holds telemetry broker settings. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
}

// RabbitMQConfig holds AMQP settings. An empty URL disables RabbitMQ.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// Load returns a viper instance reading environment variables under prefix
// (e.g. DISPATCH_DB_HOST) with defaults applied.
func Load(prefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("SERVICE_PORT", "8080")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("JWT_SECRET", "change-me")
	v.SetDefault("JWT_ISSUER", "rescuelink")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_PREFIX", "rescuelink-")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MQTT_CLIENT_ID", "service-dispatch")
	v.SetDefault("MQTT_TOPIC", "/fleet/ambulance/+/position")
	v.SetDefault("RABBITMQ_EXCHANGE", "dispatch.alerts")

	return v, nil
}

// GetServicePort returns the listen address for the HTTP server, e.g. ":8080".
func GetServicePort(v *viper.Viper, key string) string {
	port := v.GetString(key)
	if port == "" {
		port = "8080"
	}
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

// GetAppEnv returns the deployment environment name.
func GetAppEnv(v *viper.Viper) string {
	return v.GetString("APP_ENV")
}

// LoadDatabaseConfig reads DB_* keys; dbNameKey names the key holding the database name.
func LoadDatabaseConfig(v *viper.Viper, dbNameKey string) DatabaseConfig {
	name := v.GetString(dbNameKey)
	if name == "" {
		name = "dispatch"
	}
	return DatabaseConfig{
		Host:     v.GetString("DB_HOST"),
		Port:     v.GetString("DB_PORT"),
		User:     v.GetString("DB_USER"),
		Password: v.GetString("DB_PASSWORD"),
		DBName:   name,
		SSLMode:  v.GetString("DB_SSLMODE"),
	}
}

// LoadJWTConfig reads JWT_* keys.
func LoadJWTConfig(v *viper.Viper) JWTConfig {
	return JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}
}

// LoadKafkaConfig reads KAFKA_* keys. Brokers is a comma separated list.
func LoadKafkaConfig(v *viper.Viper) KafkaConfig {
	return KafkaConfig{
		Brokers:     splitList(v.GetString("KAFKA_BROKERS")),
		GroupPrefix: v.GetString("KAFKA_GROUP_PREFIX"),
	}
}

// LoadRedisConfig reads REDIS_* keys.
func LoadRedisConfig(v *viper.Viper) RedisConfig {
	return RedisConfig{
		Addr:     v.GetString("REDIS_ADDR"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}
}

// LoadMQTTConfig reads MQTT_* keys.
func LoadMQTTConfig(v *viper.Viper) MQTTConfig {
	return MQTTConfig{
		Broker:   v.GetString("MQTT_BROKER"),
		ClientID: v.GetString("MQTT_CLIENT_ID"),
		Topic:    v.GetString("MQTT_TOPIC"),
	}
}

// LoadRabbitMQConfig reads RABBITMQ_* keys.
func LoadRabbitMQConfig(v *viper.Viper) RabbitMQConfig {
	return RabbitMQConfig{
		URL:      v.GetString("RABBITMQ_URL"),
		Exchange: v.GetString("RABBITMQ_EXCHANGE"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
