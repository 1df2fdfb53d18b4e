package configuration

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/driftlock/filestore/internal/backend"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	GC       GCConfig

	// DefaultBackend is always available; BackendsFile optionally points
	// at a JSON array of further backend definitions.
	DefaultBackend backend.RemoteStorageConfig
	BackendsFile   string

	StagingDir string

	NATSURL     string
	CLAMAVURL   string
	OIDCIssuer  string
	OIDCClient  string
	CacheSize   int
	CacheTTL    time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type ServerConfig struct {
	Port string
}

type GCConfig struct {
	// Cron expressions for the two sweeps.
	ExpirationSchedule string
	UnusedSchedule     string
	GraceWindow        time.Duration
	BatchSize          int
}

// Load reads .env when present, then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "fileuser"),
			Password: getEnv("DB_PASSWORD", "filepassword"),
			DBName:   getEnv("DB_NAME", "filestore"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		GC: GCConfig{
			ExpirationSchedule: getEnv("GC_EXPIRATION_SCHEDULE", "*/10 * * * *"),
			UnusedSchedule:     getEnv("GC_UNUSED_SCHEDULE", "5 * * * *"),
			GraceWindow:        getDuration("GC_GRACE_WINDOW", time.Hour),
			BatchSize:          getInt("GC_BATCH_SIZE", 100),
		},
		DefaultBackend: backend.RemoteStorageConfig{
			ID:             getEnv("STORAGE_BACKEND_ID", "primary"),
			Endpoint:       getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:      getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:      getEnv("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:         getEnv("MINIO_BUCKET", "files"),
			Region:         getEnv("MINIO_REGION", ""),
			UseSSL:         getEnv("MINIO_USE_SSL", "false") == "true",
			ImageProxyURL:  getEnv("IMAGE_PROXY_URL", ""),
			AccessProxyURL: getEnv("ACCESS_PROXY_URL", ""),
			UseSignedURL:   getEnv("USE_SIGNED_URL", "false") == "true",
			PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),
		},
		BackendsFile: getEnv("STORAGE_BACKENDS_FILE", ""),
		StagingDir:   getEnv("STAGING_DIR", "./staging"),
		NATSURL:      getEnv("NATS_URL", ""),
		CLAMAVURL:    getEnv("CLAMAV_URL", ""),
		OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
		OIDCClient:   getEnv("OIDC_CLIENT", ""),
		CacheSize:    getInt("RECORD_CACHE_SIZE", 1024),
		CacheTTL:     getDuration("RECORD_CACHE_TTL", 5*time.Minute),
	}
}

// Backends returns the default backend plus any defined in BackendsFile.
func (c *Config) Backends() ([]backend.RemoteStorageConfig, error) {
	configs := []backend.RemoteStorageConfig{c.DefaultBackend}
	if c.BackendsFile == "" {
		return configs, nil
	}
	raw, err := os.ReadFile(c.BackendsFile)
	if err != nil {
		return nil, fmt.Errorf("reading backends file: %w", err)
	}
	var extra []backend.RemoteStorageConfig
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil, fmt.Errorf("parsing backends file: %w", err)
	}
	return append(configs, extra...), nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
