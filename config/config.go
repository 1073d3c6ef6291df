package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	StorageDriver    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DedupTTL      time.Duration

	TelegramBotToken string
	ChatSource       string
	ChatHistoryLimit int

	GeminiAPIKey string
	GeminiModel  string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MailFrom     string

	AllowedNumbers     []string
	AllowedGroups      []string
	NotifyNumbers      []string
	DefaultCountryCode string

	ScanInterval     time.Duration
	ScanWindow       time.Duration
	ScanMessageLimit int

	MaxTextLength      int
	MaxAttachmentBytes int
	MatchLimit         int

	InitMaxAttempts int
	InitRetryDelay  time.Duration
	SendRatePerSec  float64

	FacebookEmail    string
	FacebookPassword string
	MarketplaceCity  string
	ChromeBin        string
	MaxConcurrency   int
	RateLimitMs      int
	MaxRetries       int
	ScrapeLimit      int
	CSVOutputPath    string

	LogLevel  string
	LogFormat string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "property"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "property123"),
		PostgresDB:       getEnv("POSTGRES_DB", "property_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		StorageDriver:    getEnv("STORAGE_DRIVER", "postgres"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		DedupTTL:      getEnvDuration("DEDUP_TTL", 72*time.Hour),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		ChatSource:       getEnv("CHAT_SOURCE", "telegram"),
		ChatHistoryLimit: getEnvInt("CHAT_HISTORY_LIMIT", 100),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		MailFrom:     getEnv("MAIL_FROM", ""),

		AllowedNumbers:     getEnvList("ALLOWED_NUMBERS"),
		AllowedGroups:      getEnvList("ALLOWED_GROUPS"),
		NotifyNumbers:      getEnvList("NOTIFY_NUMBERS"),
		DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "234"),

		ScanInterval:     getEnvDuration("SCAN_INTERVAL", 30*time.Minute),
		ScanWindow:       getEnvDuration("SCAN_WINDOW", 24*time.Hour),
		ScanMessageLimit: getEnvInt("SCAN_MESSAGE_LIMIT", 100),

		MaxTextLength:      getEnvInt("MAX_TEXT_LENGTH", 16000),
		MaxAttachmentBytes: getEnvInt("MAX_ATTACHMENT_BYTES", 5*1024*1024),
		MatchLimit:         getEnvInt("MATCH_LIMIT", 5),

		InitMaxAttempts: getEnvInt("INIT_MAX_ATTEMPTS", 3),
		InitRetryDelay:  getEnvDuration("INIT_RETRY_DELAY", 5*time.Second),
		SendRatePerSec:  getEnvFloat("SEND_RATE_PER_SEC", 5),

		FacebookEmail:    getEnv("FB_EMAIL", ""),
		FacebookPassword: getEnv("FB_PASSWORD", ""),
		MarketplaceCity:  getEnv("FB_MARKETPLACE_CITY", "lagos"),
		ChromeBin:        getEnv("CHROME_BIN", ""),
		MaxConcurrency:   getEnvInt("MAX_CONCURRENCY", 2),
		RateLimitMs:      getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:       getEnvInt("MAX_RETRIES", 3),
		ScrapeLimit:      getEnvInt("SCRAPE_LIMIT", 20),
		CSVOutputPath:    getEnv("CSV_OUTPUT_PATH", "./output/raw_scrape.csv"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// MailEnabled reports whether an SMTP relay is configured.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.MailFrom != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
