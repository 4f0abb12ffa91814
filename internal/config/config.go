package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"vpnstore/internal/model"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Bot       BotConfig
	Deposit   DepositConfig
	Feed      FeedConfig
	Gateway   GatewayConfig
	Provision ProvisionConfig
	RateLimit model.RateLimitConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	AdminAPIKey  string
}

type DatabaseConfig struct {
	Path string
}

type BotConfig struct {
	Token     string
	AdminIDs  []int64
	GroupID   int64
	StoreName string
}

type DepositConfig struct {
	TTL          time.Duration
	PollInterval time.Duration
	SurchargeMax int64
	MinStandard  int64
	MinReseller  int64
}

type FeedConfig struct {
	URL      string
	Username string
	Token    string
	Timeout  time.Duration
}

type GatewayConfig struct {
	BaseURL  string
	APIKey   string
	QRISCode string
	Timeout  time.Duration
}

type ProvisionConfig struct {
	Timeout time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  time.Duration(getEnvAsInt("READ_TIMEOUT", 10)) * time.Second,
			WriteTimeout: time.Duration(getEnvAsInt("WRITE_TIMEOUT", 10)) * time.Second,
			AdminAPIKey:  getEnv("ADMIN_API_KEY", ""),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "./vpnstore.db"),
		},
		Bot: BotConfig{
			Token:     getEnv("BOT_TOKEN", ""),
			AdminIDs:  getEnvAsInt64List("ADMIN_IDS"),
			GroupID:   getEnvAsInt64("GROUP_ID", 0),
			StoreName: getEnv("STORE_NAME", "VPN Store"),
		},
		Deposit: DepositConfig{
			TTL:          time.Duration(getEnvAsInt("DEPOSIT_TTL_MINUTES", 60)) * time.Minute,
			PollInterval: time.Duration(getEnvAsInt("POLL_INTERVAL_SECONDS", 10)) * time.Second,
			SurchargeMax: getEnvAsInt64("DEPOSIT_SURCHARGE_MAX", 300),
			MinStandard:  getEnvAsInt64("DEPOSIT_MIN_STANDARD", 1000),
			MinReseller:  getEnvAsInt64("DEPOSIT_MIN_RESELLER", 50000),
		},
		Feed: FeedConfig{
			URL:      getEnv("MUTATION_URL", ""),
			Username: getEnv("MUTATION_USERNAME", ""),
			Token:    getEnv("MUTATION_TOKEN", ""),
			Timeout:  time.Duration(getEnvAsInt("MUTATION_TIMEOUT_SECONDS", 20)) * time.Second,
		},
		Gateway: GatewayConfig{
			BaseURL:  getEnv("GATEWAY_URL", ""),
			APIKey:   getEnv("GATEWAY_API_KEY", ""),
			QRISCode: getEnv("GATEWAY_QRIS_CODE", ""),
			Timeout:  time.Duration(getEnvAsInt("GATEWAY_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Provision: ProvisionConfig{
			Timeout: time.Duration(getEnvAsInt("PROVISION_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		RateLimit: model.RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 5),
			BurstSize:         getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
	}
}

func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsInt64List(key string) []int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(valueStr, ",") {
		if v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
