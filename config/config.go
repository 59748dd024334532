// Package config loads process configuration from environment variables and
// the sensor.json device descriptor shared by stations and aggregator.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration loaded from environment variables.
type Config struct {
	// Aggregator listeners
	IngestAddr  string // mutual-TLS ingest endpoint
	SidecarAddr string // plain HTTP: /metrics, /healthz, /ws

	// TLS material
	ServerCert string
	ServerKey  string
	ClientCA   string // CA bundle for station client certificates

	// Legacy token auth
	TokenFile  string
	TOTPSecret string

	// Paths
	DataDir      string
	WebDir       string
	StaticDir    string
	SummaryDB    string
	SensorFile   string
	BufferPath   string

	// Series engine
	Timezone string

	// Redis mirror (disabled when addr empty)
	RedisAddr     string
	RedisPassword string

	// Email
	SMTPAddr      string
	SourceAddress string
	AdminAddress  string
	UserAddresses string // comma-separated
	EnableEmail   bool
	WebhookURL    string

	// Station transport
	ServerURL      string
	StationCert    string
	StationKey     string
	StationToken   string
	SampleInterval time.Duration
	RetryRejected  bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		IngestAddr:  getEnv("INGEST_ADDR", ":64918"),
		SidecarAddr: getEnv("SIDECAR_ADDR", ":9090"),

		ServerCert: getEnv("SERVER_CERT", "server.crt"),
		ServerKey:  getEnv("SERVER_KEY", "server.key"),
		ClientCA:   getEnv("CLIENT_CA", ""),

		TokenFile:  getEnv("TOKEN_FILE", "api_token"),
		TOTPSecret: getEnv("TOTP_SECRET", ""),

		DataDir:    getEnv("DATA_DIR", "data"),
		WebDir:     getEnv("WEB_DIR", "web"),
		StaticDir:  getEnv("STATIC_DIR", "static"),
		SummaryDB:  getEnv("SUMMARY_DB", "data/summaries.db"),
		SensorFile: getEnv("SENSOR_FILE", "sensor.json"),
		BufferPath: getEnv("BUFFER_PATH", "buffer"),

		Timezone: getEnv("TIMEZONE", "Europe/Berlin"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		SMTPAddr:      getEnv("SMTP_ADDR", "localhost:25"),
		SourceAddress: getEnv("SOURCE_ADDRESS", ""),
		AdminAddress:  getEnv("ADMIN_ADDRESS", ""),
		UserAddresses: getEnv("USER_ADDRESSES", ""),
		EnableEmail:   getBool("ENABLE_EMAIL", false),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),

		ServerURL:      getEnv("SERVER_URL", "https://localhost:64918/"),
		StationCert:    getEnv("STATION_CERT", ""),
		StationKey:     getEnv("STATION_KEY", ""),
		StationToken:   getEnv("STATION_TOKEN", ""),
		SampleInterval: getDuration("SAMPLE_INTERVAL", 10*time.Minute),
		RetryRejected:  getBool("RETRY_REJECTED", false),
	}
}

// Users splits UserAddresses into a slice, empty entries removed.
func (c *Config) Users() []string {
	var out []string
	for _, a := range strings.Split(c.UserAddresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
