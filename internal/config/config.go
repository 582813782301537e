package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/academic-manager/wa-service/internal/domain"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	APIKey               string
	DatabaseURL          string
	StoreDir             string
	BackupFile           string
	OTPExpiry            time.Duration
	OTPMaxAttempts       int
	PhoneRateLimit       int
	IPRateLimit          int
	RateWindow           time.Duration
	SessionTTL           time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	SweepInterval        time.Duration
	AuthorizedPhones     []string
	DevMode              bool
}

func NewConfig() domain.ConfigService {
	// Load .env if present
	_ = godotenv.Load()

	var phones []string
	for _, p := range strings.Split(os.Getenv("AUTHORIZED_PHONES"), ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			phones = append(phones, p)
		}
	}

	return &Config{
		HTTPAddr:             envString("HTTP_ADDR", ":8080"),
		APIKey:               os.Getenv("API_KEY"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		StoreDir:             envString("WA_STORE_DIR", "wa-credentials"),
		BackupFile:           envString("WA_BACKUP_FILE", "wa-session-backup.json"),
		OTPExpiry:            envDuration("OTP_EXPIRY_MINUTES", 5, time.Minute),
		OTPMaxAttempts:       envInt("OTP_MAX_ATTEMPTS", 3),
		PhoneRateLimit:       envInt("OTP_RATE_LIMIT_PER_PHONE", 3),
		IPRateLimit:          envInt("OTP_RATE_LIMIT_PER_IP", 10),
		RateWindow:           envDuration("OTP_RATE_WINDOW_MINUTES", 15, time.Minute),
		SessionTTL:           envDuration("SESSION_TTL_DAYS", 30, 24*time.Hour),
		MaxReconnectAttempts: envInt("MAX_RECONNECT_ATTEMPTS", 10),
		ReconnectBaseDelay:   envDuration("RECONNECT_BASE_DELAY_SECONDS", 5, time.Second),
		ReconnectMaxDelay:    envDuration("RECONNECT_MAX_DELAY_SECONDS", 300, time.Second),
		SweepInterval:        envDuration("SWEEP_INTERVAL_SECONDS", 60, time.Second),
		AuthorizedPhones:     phones,
		DevMode:              envBool("DEV_MODE"),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDuration(key string, def int, unit time.Duration) time.Duration {
	return time.Duration(envInt(key, def)) * unit
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func (c *Config) GetHTTPAddr() string { return c.HTTPAddr }
func (c *Config) GetAPIKey() string { return c.APIKey }
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }
func (c *Config) GetStoreDir() string { return c.StoreDir }
func (c *Config) GetBackupFile() string { return c.BackupFile }
func (c *Config) GetOTPExpiry() time.Duration { return c.OTPExpiry }
func (c *Config) GetOTPMaxAttempts() int { return c.OTPMaxAttempts }
func (c *Config) GetPhoneRateLimit() int { return c.PhoneRateLimit }
func (c *Config) GetIPRateLimit() int { return c.IPRateLimit }
func (c *Config) GetRateWindow() time.Duration { return c.RateWindow }
func (c *Config) GetSessionTTL() time.Duration { return c.SessionTTL }
func (c *Config) GetMaxReconnectAttempts() int { return c.MaxReconnectAttempts }
func (c *Config) GetReconnectBaseDelay() time.Duration { return c.ReconnectBaseDelay }
func (c *Config) GetReconnectMaxDelay() time.Duration { return c.ReconnectMaxDelay }
func (c *Config) GetSweepInterval() time.Duration { return c.SweepInterval }
func (c *Config) GetAuthorizedPhones() []string { return c.AuthorizedPhones }
func (c *Config) IsDevMode() bool { return c.DevMode }
