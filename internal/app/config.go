package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Sources enabled when SOURCES_ENABLED is unset. btdig is opt-in.
var defaultSources = []string{"tpb", "yts", "eztv", "nyaa", "x1337", "rargb", "torznab"}

type Config struct {
	HTTPAddr         string
	BaseURL          string
	AddonToken       string
	SourceTimeout    time.Duration
	AggregateTimeout time.Duration
	UserAgent        string

	LogLevel          string
	LogFormat         string
	LogFile           string
	LogFileMaxSizeMB  int
	LogFileMaxBackups int
	LogFileMaxAgeDays int

	RedisURL            string
	CacheSQLitePath     string
	CacheDisabled       bool
	CacheMemoryCapacity int

	SourcesEnabled  []string
	TPBEndpoint     string
	YTSEndpoint     string
	EZTVEndpoint    string
	NyaaEndpoint    string
	X1337Endpoint   string
	RargbEndpoint   string
	BTDigEndpoint   string
	TorznabEndpoint string
	TorznabAPIKey   string

	CinemetaBaseURL    string
	TVDBAPIKey         string
	TVDBBaseURL        string
	TorrentMetaBaseURL string

	RealDebridAPIKey      string
	RealDebridBaseURL     string
	RealDebridBatchWindow time.Duration

	PreloadNextEpisode bool
	HTTPRateLimitRPS   int
	HTTPRateLimitBurst int

	// SourceRateLimitRPS caps calls per source across requests; 0 disables it.
	SourceRateLimitRPS   int
	SourceRateLimitBurst int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8000"),
		BaseURL:          getEnv("BASE_URL", ""),
		AddonToken:       strings.Trim(getEnv("ADDON_TOKEN", ""), "/"),
		SourceTimeout:    time.Duration(getEnvInt("SOURCE_TIMEOUT_SECONDS", 15)) * time.Second,
		AggregateTimeout: time.Duration(getEnvInt("AGGREGATE_TIMEOUT_SECONDS", 30)) * time.Second,
		UserAgent:        getEnv("USER_AGENT", ""),

		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogFile:           getEnv("LOG_FILE", ""),
		LogFileMaxSizeMB:  getEnvInt("LOG_FILE_MAX_SIZE_MB", 50),
		LogFileMaxBackups: getEnvInt("LOG_FILE_MAX_BACKUPS", 3),
		LogFileMaxAgeDays: getEnvInt("LOG_FILE_MAX_AGE_DAYS", 14),

		RedisURL:            getEnv("REDIS_URL", ""),
		CacheSQLitePath:     getEnv("CACHE_SQLITE_PATH", ""),
		CacheDisabled:       getEnvBool("CACHE_DISABLED", false),
		CacheMemoryCapacity: getEnvInt("CACHE_MEMORY_CAPACITY", 16),

		SourcesEnabled:  getEnvList("SOURCES_ENABLED", defaultSources),
		TPBEndpoint:     getEnv("TPB_ENDPOINT", ""),
		YTSEndpoint:     getEnv("YTS_ENDPOINT", ""),
		EZTVEndpoint:    getEnv("EZTV_ENDPOINT", ""),
		NyaaEndpoint:    getEnv("NYAA_ENDPOINT", ""),
		X1337Endpoint:   getEnv("X1337_ENDPOINT", ""),
		RargbEndpoint:   getEnv("RARGB_ENDPOINT", ""),
		BTDigEndpoint:   getEnv("BTDIG_ENDPOINT", ""),
		TorznabEndpoint: getEnv("TORZNAB_ENDPOINT", ""),
		TorznabAPIKey:   strings.TrimSpace(os.Getenv("TORZNAB_API_KEY")),

		CinemetaBaseURL:    getEnv("CINEMETA_BASE_URL", ""),
		TVDBAPIKey:         strings.TrimSpace(os.Getenv("TVDB_API_KEY")),
		TVDBBaseURL:        getEnv("TVDB_BASE_URL", ""),
		TorrentMetaBaseURL: getEnv("TORRENT_META_BASE_URL", ""),

		RealDebridAPIKey:      strings.TrimSpace(os.Getenv("REAL_DEBRID_API_KEY")),
		RealDebridBaseURL:     getEnv("REAL_DEBRID_BASE_URL", ""),
		RealDebridBatchWindow: time.Duration(getEnvInt("REAL_DEBRID_BATCH_WINDOW_MS", 150)) * time.Millisecond,

		PreloadNextEpisode: getEnvBool("PRELOAD_NEXT_EPISODE", true),
		HTTPRateLimitRPS:   getEnvInt("HTTP_RATE_LIMIT_RPS", 50),
		HTTPRateLimitBurst: getEnvInt("HTTP_RATE_LIMIT_BURST", 100),

		SourceRateLimitRPS:   getEnvInt("SOURCE_RATE_LIMIT_RPS", 0),
		SourceRateLimitBurst: getEnvInt("SOURCE_RATE_LIMIT_BURST", 5),
	}
}

// SourceEnabled reports whether name is listed in SOURCES_ENABLED.
func (c Config) SourceEnabled(name string) bool {
	for _, enabled := range c.SourcesEnabled {
		if enabled == name {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return append([]string(nil), fallback...)
	}
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		items = append(items, name)
	}
	return items
}
