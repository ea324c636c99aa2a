package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime settings. Empty backend URLs select the in-process
// fallback for that concern.
type Config struct {
	Addr          string
	DatabaseURL   string
	DBMaxConns    int
	MigrationsDir string
	JWTSecret     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	HistoryDir    string
	CORSOrigin    string
	PublicURL     string
	BcryptCost    int
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// Materials
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// SMTP - email disabled if not configured
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	// Redis - sessions and cross-instance change notifications
	RedisURL string
}

// Load reads the optional dotenv file named by TASKBOARD_ENV_FILE (".env" by
// default) and then the environment. Variables already set in the
// environment win over the file.
func Load() (Config, error) {
	envFile := getenv("TASKBOARD_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	return Config{
		Addr:           getenv("API_ADDR", ":8787"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		DBMaxConns:     getenvInt("TASKBOARD_DB_MAX_CONNS", 10),
		MigrationsDir:  getenv("TASKBOARD_MIGRATIONS_DIR", ""),
		JWTSecret:      getenv("TASKBOARD_JWT_SECRET", "taskboard-dev-secret"),
		AccessTTL:      time.Duration(getenvInt("TASKBOARD_ACCESS_TTL_SECONDS", 900)) * time.Second,
		RefreshTTL:     time.Duration(getenvInt("TASKBOARD_REFRESH_TTL_SECONDS", 2592000)) * time.Second,
		HistoryDir:     getenv("TASKBOARD_HISTORY_DIR", "./data/history"),
		CORSOrigin:     getenv("TASKBOARD_CORS_ORIGIN", "*"),
		PublicURL:      strings.TrimRight(getenv("TASKBOARD_PUBLIC_URL", ""), "/"),
		BcryptCost:     getenvInt("TASKBOARD_BCRYPT_COST", 10),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "taskboard-materials"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
		SMTPHost:       getenv("SMTP_HOST", ""),
		SMTPPort:       getenv("SMTP_PORT", "587"),
		SMTPUsername:   getenv("SMTP_USERNAME", ""),
		SMTPPassword:   getenv("SMTP_PASSWORD", ""),
		SMTPFrom:       getenv("SMTP_FROM", ""),
		SMTPFromName:   getenv("SMTP_FROM_NAME", "Taskboard"),
		RedisURL:       getenv("REDIS_URL", ""),
	}, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
