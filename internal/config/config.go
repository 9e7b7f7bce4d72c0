package config

import (
	"os"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Postgres PostgresConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenTTL    string
	RefreshTokenTTL   string
	CookieSecure      string
	CookieSameSite    string
	CookieDomain      string
	CookiePath        string
	BcryptCost        string
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

func Load() Config {
	return Config{
		Server: ServerConfig{
			Port:           getenv("PORT", "4000"),
			AllowedOrigins: splitList(getenv("FRONTEND_ORIGINS", "http://localhost:5173")),
		},
		Auth: AuthConfig{
			AccessTokenSecret: os.Getenv("ACCESS_TOKEN_SECRET"),
			AccessTokenTTL:    getenv("ACCESS_TOKEN_TTL", "15m"),
			RefreshTokenTTL:   getenv("REFRESH_TOKEN_TTL", "720h"),
			CookieSecure:      os.Getenv("AUTH_COOKIE_SECURE"),
			CookieSameSite:    os.Getenv("AUTH_COOKIE_SAMESITE"),
			CookieDomain:      os.Getenv("AUTH_COOKIE_DOMAIN"),
			CookiePath:        os.Getenv("AUTH_COOKIE_PATH"),
			BcryptCost:        os.Getenv("BCRYPT_COST"),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
