package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	StateDir string
	DataDir  string

	ListenPort       int
	NoDHT            bool
	DownloadLimitKiB int64 // client-wide, 0 = unlimited
	UploadLimitKiB   int64 // client-wide, 0 = unlimited

	QueueNewToTop     bool
	StateSaveInterval time.Duration
	ShutdownTimeout   time.Duration

	CORSAllowedOrigins []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		StateDir: getEnv("SESSION_STATE_DIR", "state"),
		DataDir:  getEnv("TORRENT_DATA_DIR", "data"),

		ListenPort:       int(getEnvInt64("TORRENT_LISTEN_PORT", 0)),
		NoDHT:            getEnvBool("TORRENT_NO_DHT", false),
		DownloadLimitKiB: getEnvInt64("TORRENT_DOWNLOAD_LIMIT_KIB", 0),
		UploadLimitKiB:   getEnvInt64("TORRENT_UPLOAD_LIMIT_KIB", 0),

		QueueNewToTop:     getEnvBool("SESSION_QUEUE_NEW_TO_TOP", false),
		StateSaveInterval: time.Duration(getEnvInt64("SESSION_STATE_SAVE_SECONDS", 0)) * time.Second,
		ShutdownTimeout:   time.Duration(getEnvInt64("SESSION_SHUTDOWN_TIMEOUT_SECONDS", 0)) * time.Second,

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return fallback
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
