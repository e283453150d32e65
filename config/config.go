package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	FFmpegPath  string
	FFprobePath string

	// StagingDir is the root of the local scratch area. Each job kind gets its own
	// subdirectory below it.
	StagingDir string

	OnboardingWorkers   int
	WriteBackWorkers    int
	PollInterval        time.Duration
	LeaseTTL            time.Duration
	DeleteRetryInterval time.Duration
	DeleteRetryAttempts int // 0 = retry until the context ends
	StageMaxAge         time.Duration
	MaintenanceInterval time.Duration

	// Database
	DBDriver   string // mysql, postgres or sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBDSN      string // overrides the fields above when set (sqlite path, postgres url)
	DBLogLevel string

	// 对象存储
	BlobBackend        string // minio or gcs
	MinioEndpoint      string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioRegion        string
	MinioUseSSL        bool
	GCSProjectID       string
	GCSCredentialsFile string
	UploadContainer    string
	TrackContainer     string
	ArtContainer       string

	// 租约后端
	LeaserBackend string // db or redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	CatalogFile string

	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int

	OpsAddr     string
	TraceStdout bool

	ImportDir   string
	ImportOwner int64
}

// Default returns a configuration with every field set to a usable default.
// Tests start from this and override directories.
func Default() Config {
	return Config{
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
		StagingDir:          filepath.Join("data", "staging"),
		OnboardingWorkers:   2,
		WriteBackWorkers:    1,
		PollInterval:        5 * time.Second,
		LeaseTTL:            30 * time.Minute,
		DeleteRetryInterval: 500 * time.Millisecond,
		StageMaxAge:         24 * time.Hour,
		MaintenanceInterval: time.Hour,
		DBDriver:            "mysql",
		DBHost:              "127.0.0.1",
		DBPort:              "3306",
		DBUser:              "root",
		DBName:              "fm",
		DBLogLevel:          "warn",
		BlobBackend:         "minio",
		MinioEndpoint:       "127.0.0.1:9000",
		MinioRegion:         "us-east-1",
		UploadContainer:     "uploads",
		TrackContainer:      "tracks",
		ArtContainer:        "art",
		LeaserBackend:       "db",
		RedisHost:           "127.0.0.1",
		RedisPort:           "6379",
		LogLevel:            "info",
		LogMaxSize:          100,
		LogMaxBackups:       5,
		LogMaxAge:           30,
		OpsAddr:             ":8090",
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("750ms", "2m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	d := Default()
	cfg := &Config{
		FFmpegPath:          getEnv("FFMPEG_PATH", d.FFmpegPath),
		StagingDir:          getEnv("STAGING_DIR", d.StagingDir),
		OnboardingWorkers:   getEnvInt("ONBOARDING_WORKERS", d.OnboardingWorkers),
		WriteBackWorkers:    getEnvInt("WRITEBACK_WORKERS", d.WriteBackWorkers),
		PollInterval:        getEnvDuration("POLL_INTERVAL", d.PollInterval),
		LeaseTTL:            getEnvDuration("LEASE_TTL", d.LeaseTTL),
		DeleteRetryInterval: getEnvDuration("DELETE_RETRY_INTERVAL", d.DeleteRetryInterval),
		DeleteRetryAttempts: getEnvInt("DELETE_RETRY_ATTEMPTS", d.DeleteRetryAttempts),
		StageMaxAge:         getEnvDuration("STAGE_MAX_AGE", d.StageMaxAge),
		MaintenanceInterval: getEnvDuration("MAINTENANCE_INTERVAL", d.MaintenanceInterval),
		DBDriver:            strings.ToLower(getEnv("DB_DRIVER", d.DBDriver)),
		DBHost:              getEnv("DB_HOST", d.DBHost),
		DBPort:              getEnv("DB_PORT", d.DBPort),
		DBUser:              getEnv("DB_USER", d.DBUser),
		DBPassword:          os.Getenv("DB_PASSWORD"), // no hardcoded default for passwords
		DBName:              getEnv("DB_NAME", d.DBName),
		DBDSN:               os.Getenv("DB_DSN"),
		DBLogLevel:          getEnv("DB_LOG_LEVEL", d.DBLogLevel),
		BlobBackend:         strings.ToLower(getEnv("BLOB_BACKEND", d.BlobBackend)),
		MinioEndpoint:       getEnv("MINIO_ENDPOINT", d.MinioEndpoint),
		MinioAccessKey:      os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:      os.Getenv("MINIO_SECRET_KEY"),
		MinioRegion:         getEnv("MINIO_REGION", d.MinioRegion),
		MinioUseSSL:         getEnvBool("MINIO_USE_SSL", d.MinioUseSSL),
		GCSProjectID:        os.Getenv("GCS_PROJECT_ID"),
		GCSCredentialsFile:  os.Getenv("GCS_CREDENTIALS_FILE"),
		UploadContainer:     getEnv("UPLOAD_CONTAINER", d.UploadContainer),
		TrackContainer:      getEnv("TRACK_CONTAINER", d.TrackContainer),
		ArtContainer:        getEnv("ART_CONTAINER", d.ArtContainer),
		LeaserBackend:       strings.ToLower(getEnv("LEASER_BACKEND", d.LeaserBackend)),
		RedisHost:           getEnv("REDIS_HOST", d.RedisHost),
		RedisPort:           getEnv("REDIS_PORT", d.RedisPort),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:             getEnvInt("REDIS_DB", 0),     // 默认使用0号数据库
		CatalogFile:         os.Getenv("CATALOG_FILE"),
		LogLevel:            getEnv("LOG_LEVEL", d.LogLevel),
		LogFile:             os.Getenv("LOG_FILE"),
		LogMaxSize:          getEnvInt("LOG_MAX_SIZE", d.LogMaxSize),
		LogMaxBackups:       getEnvInt("LOG_MAX_BACKUPS", d.LogMaxBackups),
		LogMaxAge:           getEnvInt("LOG_MAX_AGE", d.LogMaxAge),
		OpsAddr:             getEnv("OPS_ADDR", d.OpsAddr),
		TraceStdout:         getEnvBool("TRACE_STDOUT", false),
		ImportDir:           os.Getenv("IMPORT_DIR"),
		ImportOwner:         getEnvInt64("IMPORT_OWNER", 0),
	}
	cfg.FFprobePath = getEnv("FFPROBE_PATH", strings.Replace(cfg.FFmpegPath, "ffmpeg", "ffprobe", 1))

	if cfg.OnboardingWorkers < 0 {
		cfg.OnboardingWorkers = 0
	}
	if cfg.WriteBackWorkers < 0 {
		cfg.WriteBackWorkers = 0
	}
	return cfg
}
