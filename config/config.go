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

// Config stores the worker configuration.
type Config struct {
	HTTPAddr string

	FFmpegPath      string
	FFprobePath     string
	AudioBitrate    string   // e.g., "192k"
	OutputCodec     string   // ffmpeg encoder for the merged file
	OutputExt       string   // extension of the merged file, without the dot
	SupportedCodecs []string // codec names accepted by the duration analyzer

	CacheDir   string // podcast-part cache, one file per part id
	ScratchDir string // merged outputs, one file per job
	InputDir   string // caller-supplied user inputs

	StorageDriver     string // "service" or "minio"
	StorageServiceURL string
	CatalogServiceURL string
	HTTPTimeout       time.Duration
	JobTimeout        time.Duration // 0 disables the bound

	AuthTokenURL     string
	AuthClientID     string
	AuthClientSecret string
	AuthScopes       []string
	JWTSecret        string // verifies bearer tokens on worker endpoints; empty disables

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Redis
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	DBEnabled  bool
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	ffmpegPath := getEnv("FFMPEG_PATH", "ffmpeg")

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		FFmpegPath:      ffmpegPath,
		FFprobePath:     getEnv("FFPROBE_PATH", strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)),
		AudioBitrate:    getEnv("AUDIO_BITRATE", "192k"),
		OutputCodec:     getEnv("OUTPUT_CODEC", "libmp3lame"),
		OutputExt:       getEnv("OUTPUT_EXT", "mp3"),
		SupportedCodecs: getEnvList("SUPPORTED_CODECS", []string{"mp3"}),

		CacheDir:   getEnv("CACHE_DIR", filepath.Join("cache", "podcast-parts")),
		ScratchDir: getEnv("SCRATCH_DIR", filepath.Join(os.TempDir(), "craftworker")),
		InputDir:   getEnv("INPUT_DIR", filepath.Join("uploads", "inputs")),

		StorageDriver:     getEnv("STORAGE_DRIVER", "service"),
		StorageServiceURL: getEnv("STORAGE_SERVICE_URL", "http://localhost:3001"),
		CatalogServiceURL: getEnv("CATALOG_SERVICE_URL", "http://localhost:3002"),
		HTTPTimeout:       getEnvDuration("HTTP_TIMEOUT", 5*time.Minute),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT", 0),

		AuthTokenURL:     getEnv("AUTH_TOKEN_URL", "http://localhost:3003/v1/auth/token"),
		AuthClientID:     getEnv("AUTH_CLIENT_ID", "craftworker"),
		AuthClientSecret: os.Getenv("AUTH_CLIENT_SECRET"),
		AuthScopes:       getEnvList("AUTH_SCOPES", nil),
		JWTSecret:        os.Getenv("JWT_SECRET"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "crafts"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // empty means no auth
		RedisDB:       getEnvInt("REDIS_DB", 0),

		DBEnabled:  getEnvBool("DB_ENABLED", false),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "craftworker"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),
	}
}
