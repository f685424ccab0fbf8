// Package config reads the service configuration from the environment. A
// .env file in the working directory is loaded first when present.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"gymble/internal/engine"
)

type Config struct {
	Port           string
	JWTSecret      string
	DatabaseDriver string
	DatabaseURL    string
	AdminUsernames []string
	AllowedOrigins []string

	RateLimitPerMinute int

	// Both keys are 32 bytes; when unset, upload metadata is stored in clear.
	EncryptionKey []byte
	BlindIndexKey []byte

	Rules engine.Rules

	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

// Load reads .env (if any) and the environment. Only JWT_SECRET is required.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	var errs []error
	atoi := func(key string, fallback int) int {
		v := get(key, "")
		if v == "" {
			return fallback
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return fallback
		}
		return n
	}

	defaults := engine.DefaultRules()
	cfg := Config{
		Port:               get("PORT", "8080"),
		JWTSecret:          get("JWT_SECRET", ""),
		DatabaseDriver:     get("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:        get("DATABASE_URL", "file:gymble.db"),
		AdminUsernames:     list(get("ADMIN_USERNAMES", "")),
		AllowedOrigins:     list(get("ALLOWED_ORIGINS", "*")),
		RateLimitPerMinute: atoi("RATE_LIMIT_PER_MINUTE", 120),
		Rules: engine.Rules{
			ApprovalTrophies:    int64(atoi("TROPHIES_APPROVAL", int(defaults.ApprovalTrophies))),
			RejectionTrophies:   int64(atoi("TROPHIES_REJECTION", int(defaults.RejectionTrophies))),
			WeeklyBonusTrophies: int64(atoi("TROPHIES_WEEKLY_BONUS", int(defaults.WeeklyBonusTrophies))),
			RestDaysPerWeek:     atoi("REST_DAYS_PER_WEEK", defaults.RestDaysPerWeek),
		},
		LogLevel:      strings.ToLower(get("LOG_LEVEL", "info")),
		LogPath:       get("LOG_PATH", ""),
		LogMaxSizeMB:  atoi("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: atoi("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: atoi("LOG_MAX_AGE_DAYS", 7),
		LogCompress:   get("LOG_COMPRESS", "false") == "true",
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if cfg.Rules.RestDaysPerWeek < 0 || cfg.Rules.RestDaysPerWeek > 7 {
		errs = append(errs, fmt.Errorf("REST_DAYS_PER_WEEK must be between 0 and 7, got %d", cfg.Rules.RestDaysPerWeek))
	}

	encKey, err := key("ENCRYPTION_KEY", get("ENCRYPTION_KEY", ""))
	if err != nil {
		errs = append(errs, err)
	}
	idxKey, err := key("BLIND_INDEX_KEY", get("BLIND_INDEX_KEY", ""))
	if err != nil {
		errs = append(errs, err)
	}
	if (encKey == nil) != (idxKey == nil) {
		errs = append(errs, errors.New("ENCRYPTION_KEY and BLIND_INDEX_KEY must be set together"))
	}
	cfg.EncryptionKey, cfg.BlindIndexKey = encKey, idxKey

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// IsAdmin reports whether username is listed in ADMIN_USERNAMES.
func (c Config) IsAdmin(username string) bool {
	for _, a := range c.AdminUsernames {
		if strings.EqualFold(a, username) {
			return true
		}
	}
	return false
}

func list(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// key accepts 32 bytes as hex, base64 or raw text.
func key(name, v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(v); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(v); err == nil && len(b) == 32 {
		return b, nil
	}
	if len(v) == 32 {
		return []byte(v), nil
	}
	return nil, fmt.Errorf("%s must be 32 bytes (hex, base64 or raw)", name)
}
