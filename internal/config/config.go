package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	DataDir       string
	AdminUser     string
	AdminPass     string
	AdminPassHash string
	AllowedIPs    string
	// RedisURL selects the redis ledger backend when set; empty means local files.
	RedisURL        string
	ChatBaseURL     string
	TrackerBaseURL  string
	OutboundTimeout time.Duration
}

func Load() Config {
	return Config{
		Addr:            getenv("RELAY_ADDR", defaultAddr()),
		DataDir:         getenv("RELAY_DATA_DIR", "./data"),
		AdminUser:       getenv("BASIC_USER", "admin"),
		AdminPass:       getenv("BASIC_PASS", "change-me"),
		AdminPassHash:   getenv("BASIC_PASS_HASH", ""),
		AllowedIPs:      getenv("ALLOWED_IPS", ""),
		RedisURL:        getenv("RELAY_REDIS_URL", ""),
		ChatBaseURL:     getenv("CHATWORK_API_URL", "https://api.chatwork.com/v2"),
		TrackerBaseURL:  getenv("RELAY_TRACKER_API_URL", ""),
		OutboundTimeout: time.Duration(getenvInt("RELAY_OUTBOUND_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

// defaultAddr honors the PORT convention used by the hosting platform.
func defaultAddr() string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8080"
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
