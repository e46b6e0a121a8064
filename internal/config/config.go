// Package config loads settings from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yaml "go.yaml.in/yaml/v2"
)

// Client configures the citizen and moderator front-end commands.
type Client struct {
	ServerURL        string `yaml:"server_url"`
	CredentialsFile  string `yaml:"credentials_file"`
	LogLevel         string `yaml:"log_level"`
	NATSURL          string `yaml:"nats_url"`
	NotifySubject    string `yaml:"notify_subject"`
	PollSeconds      int    `yaml:"poll_seconds"`
	SignPollSeconds  int    `yaml:"sign_poll_seconds"`
	QRRefreshSeconds int    `yaml:"qr_refresh_seconds"`
}

// Server configures the development API server.
type Server struct {
	Port          int    `yaml:"port"`
	RedisAddr     string `yaml:"redis_addr"`
	NATSURL       string `yaml:"nats_url"`
	JWTSecret     string `yaml:"jwt_secret"`
	MeetingURL    string `yaml:"meeting_url"`
	BufferSize    int    `yaml:"buffer_size"`
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
	LogLevel      string `yaml:"log_level"`
}

// PollInterval returns the citizen position poll interval.
func (c Client) PollInterval() time.Duration {
	return secondsOr(c.PollSeconds, 5*time.Second)
}

// SignPollInterval returns the sign status poll interval.
func (c Client) SignPollInterval() time.Duration {
	return secondsOr(c.SignPollSeconds, 2*time.Second)
}

// QRRefreshInterval returns the QR image refresh interval.
func (c Client) QRRefreshInterval() time.Duration {
	return secondsOr(c.QRRefreshSeconds, 60*time.Second)
}

func secondsOr(s int, fallback time.Duration) time.Duration {
	if s <= 0 {
		return fallback
	}
	return time.Duration(s) * time.Second
}

// LoadClient reads the optional YAML file named by AKIM_CONFIG, then
// applies environment overrides and defaults.
func LoadClient() (Client, error) {
	var c Client
	if err := loadFile(&c); err != nil {
		return c, err
	}
	c.ServerURL = getEnv("AKIM_SERVER_URL", or(c.ServerURL, "http://localhost:8080"))
	c.CredentialsFile = getEnv("AKIM_CREDENTIALS_FILE", or(c.CredentialsFile, defaultCredentialsFile()))
	c.LogLevel = getEnv("AKIM_LOG_LEVEL", or(c.LogLevel, "info"))
	c.NATSURL = getEnv("AKIM_NATS_URL", c.NATSURL)
	c.NotifySubject = getEnv("AKIM_NOTIFY_SUBJECT", or(c.NotifySubject, "akim.notifications"))
	c.PollSeconds = getEnvInt("AKIM_POLL_SECONDS", c.PollSeconds)
	c.SignPollSeconds = getEnvInt("AKIM_SIGN_POLL_SECONDS", c.SignPollSeconds)
	c.QRRefreshSeconds = getEnvInt("AKIM_QR_REFRESH_SECONDS", c.QRRefreshSeconds)
	return c, nil
}

// LoadServer reads the optional YAML file named by AKIM_CONFIG, then
// applies environment overrides and defaults.
func LoadServer() (Server, error) {
	var s Server
	if err := loadFile(&s); err != nil {
		return s, err
	}
	s.Port = getEnvInt("PORT", orInt(s.Port, 8080))
	s.RedisAddr = getEnv("REDIS_ADDR", s.RedisAddr)
	s.NATSURL = getEnv("NATS_URL", s.NATSURL)
	s.JWTSecret = getEnv("JWT_SECRET", or(s.JWTSecret, "dev-secret-change-me"))
	s.MeetingURL = getEnv("MEETING_URL", or(s.MeetingURL, "https://meet.example/room"))
	s.BufferSize = getEnvInt("BUFFER_SIZE", orInt(s.BufferSize, 1))
	s.AdminUser = getEnv("ADMIN_USER", or(s.AdminUser, "admin"))
	s.AdminPassword = getEnv("ADMIN_PASSWORD", or(s.AdminPassword, "admin123"))
	s.LogLevel = getEnv("LOG_LEVEL", or(s.LogLevel, "info"))
	return s, nil
}

func loadFile(out any) error {
	path := os.Getenv("AKIM_CONFIG")
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func defaultCredentialsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "credentials.json"
	}
	return filepath.Join(home, ".config", "akim-queue", "credentials.json")
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		fmt.Sscanf(value, "%d", &result)
		return result
	}
	return defaultValue
}
