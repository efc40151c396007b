package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application's configuration.
type Config struct {
	RedisAddr   string
	DatabaseDSN string

	// ListenAddr is the gateway API address; HealthAddr serves the
	// liveness/readiness probes of every worker in the process.
	ListenAddr string
	HealthAddr string

	// Components selects which workers this process runs.
	Components []string

	// Kubeconfig is the path to a kubeconfig file; empty means in-cluster.
	Kubeconfig string

	// PreviewDomain is the external domain preview URLs are built under.
	PreviewDomain string

	ReadinessTimeout time.Duration
	ReadinessPoll    time.Duration

	ReapInterval time.Duration
	ReapGrace    time.Duration

	// Stream lag thresholds for the readiness probe.
	LagWarn      int64
	LagUnhealthy int64

	// S3-compatible store for run logs.
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Bucket          string
	S3Region          string
}

var (
	once     sync.Once
	instance *Config
)

// GetConfig returns the singleton instance of the Config.
// It loads the configuration from an .env file on its first call.
func GetConfig() *Config {
	once.Do(func() {
		// Load .env file. You can specify the path to your .env file.
		// If no path is provided, it will look for a .env file in the current directory.
		err := godotenv.Load()
		if err != nil {
			log.Println("No .env file found, using default environment variables")
		}

		instance = &Config{
			RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
			DatabaseDSN: getEnv("DATABASE_DSN", "host=localhost user=reporun password=reporun dbname=reporun port=5432 sslmode=disable"),

			ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
			HealthAddr: getEnv("HEALTH_ADDR", ":8081"),

			Components: strings.Split(getEnv("COMPONENTS", "gateway,orchestrator,runner,reaper"), ","),

			Kubeconfig:    getEnv("KUBECONFIG", ""),
			PreviewDomain: getEnv("PREVIEW_DOMAIN", "preview.local"),

			ReadinessTimeout: getDuration("READINESS_TIMEOUT", 5*time.Minute),
			ReadinessPoll:    getDuration("READINESS_POLL", 3*time.Second),

			ReapInterval: getDuration("REAP_INTERVAL", time.Minute),
			ReapGrace:    getDuration("REAP_GRACE", 5*time.Minute),

			LagWarn:      getInt64("LAG_WARN", 100),
			LagUnhealthy: getInt64("LAG_UNHEALTHY", 1000),

			S3Endpoint:        getEnv("S3_ENDPOINT", ""),
			S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			S3Bucket:          getEnv("S3_BUCKET", "reporun-logs"),
			S3Region:          getEnv("S3_REGION", "us-east-1"),
		}
	})
	return instance
}

// HasComponent reports whether the named worker is enabled.
func (c *Config) HasComponent(name string) bool {
	for _, comp := range c.Components {
		if strings.TrimSpace(comp) == name {
			return true
		}
	}
	return false
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s, using default %s", key, defaultValue)
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		log.Printf("Invalid integer for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}
