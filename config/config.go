// Package config loads service configuration from the environment and an
// optional YAML tunables file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort         = "8080"
	defaultLocalStorage = "./data"
	defaultHTTPTimeout  = 30 * time.Second
)

// Tunables are the settings read from the AUTHRAX_CONFIG file.
type Tunables struct {
	DefaultTopics     []string      `yaml:"default_topics"`
	DefaultSubreddits []string      `yaml:"default_subreddits"`
	UserAgent         string        `yaml:"user_agent"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
}

// Config is the service configuration.
type Config struct {
	Tunables             Tunables
	Port                 string
	ProjectID            string // Empty selects local mode
	CredentialsJSON      string
	GeminiAPIKey         string
	GeminiModel          string
	GeminiBaseURL        string
	ArchiveBucket        string
	LocalStorage         string
	WebhookSecret        string
	SchedulerToken       string
	LogLevel             slog.Level
	EnforceWebhookSecret bool
	LocalScheduler       bool
}

// Local reports whether the service runs without a Google Cloud project.
func (c *Config) Local() bool {
	return c.ProjectID == ""
}

// Load reads configuration using getenv, normally os.Getenv.
func Load(getenv func(string) string) (*Config, error) {
	c := &Config{
		Port:            getenv("PORT"),
		ProjectID:       firstNonEmpty(getenv("GOOGLE_CLOUD_PROJECT"), getenv("FIREBASE_PROJECT_ID")),
		CredentialsJSON: getenv("GOOGLE_CREDENTIALS_JSON"),
		GeminiAPIKey:    getenv("GEMINI_API_KEY"),
		GeminiModel:     getenv("GEMINI_MODEL"),
		GeminiBaseURL:   getenv("GEMINI_BASE_URL"),
		ArchiveBucket:   getenv("ARCHIVE_BUCKET"),
		LocalStorage:    getenv("LOCAL_STORAGE"),
		WebhookSecret:   getenv("VOICE_WEBHOOK_SECRET"),
		SchedulerToken:  getenv("SCHEDULER_TOKEN"),
	}
	if c.Port == "" {
		c.Port = defaultPort
	}

	var err error
	if c.EnforceWebhookSecret, err = parseBool(getenv, "VOICE_WEBHOOK_ENFORCE_SECRET"); err != nil {
		return nil, err
	}
	if c.LocalScheduler, err = parseBool(getenv, "LOCAL_SCHEDULER"); err != nil {
		return nil, err
	}

	if lvl := getenv("LOG_LEVEL"); lvl != "" {
		if err := c.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	if c.Local() && c.ArchiveBucket == "" && c.LocalStorage == "" {
		c.LocalStorage = defaultLocalStorage
	}

	if path := getenv("AUTHRAX_CONFIG"); path != "" {
		t, err := LoadTunables(path)
		if err != nil {
			return nil, err
		}
		c.Tunables = *t
	}
	if c.Tunables.HTTPTimeout <= 0 {
		c.Tunables.HTTPTimeout = defaultHTTPTimeout
	}
	return c, nil
}

// LoadTunables reads a YAML tunables file.
func LoadTunables(path string) (*Tunables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var t Tunables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	t.DefaultTopics = compact(t.DefaultTopics)
	t.DefaultSubreddits = compact(t.DefaultSubreddits)
	return &t, nil
}

func parseBool(getenv func(string) string, name string) (bool, error) {
	v := strings.TrimSpace(getenv(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func compact(vals []string) []string {
	var out []string
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
