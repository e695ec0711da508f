package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StorageConfig selects and tunes the message log backend.
type StorageConfig struct {
	Backend     string        `yaml:"backend" env:"CHATBAT_STORAGE_BACKEND" json:"backend" validate:"oneof=file sqlite"`
	Capacity    int           `yaml:"capacity" env:"CHATBAT_STORAGE_CAPACITY" json:"capacity" validate:"gt=0"`
	LockTimeout time.Duration `yaml:"lock_timeout" env:"CHATBAT_STORAGE_LOCK_TIMEOUT" json:"lock_timeout" validate:"gt=0"`
}

// JournalConfig selects the event journal backend.
type JournalConfig struct {
	Backend  string `yaml:"backend" env:"CHATBAT_JOURNAL_BACKEND" json:"backend" validate:"oneof=file memory sqlite redis"`
	RedisURL string `yaml:"redis_url" env:"CHATBAT_JOURNAL_REDIS_URL" json:"-" validate:"required_if=Backend redis"`
	RedisKey string `yaml:"redis_key" env:"CHATBAT_JOURNAL_REDIS_KEY" json:"redis_key,omitempty"`
}

// StreamConfig controls dispatcher timing.
type StreamConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval" env:"CHATBAT_STREAM_POLL_INTERVAL" json:"poll_interval" validate:"gt=0"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" env:"CHATBAT_STREAM_KEEPALIVE_INTERVAL" json:"keepalive_interval" validate:"gt=0"`
}

// ChatConfig limits submissions.
type ChatConfig struct {
	MaxMessageLength int `yaml:"max_message_length" env:"CHATBAT_CHAT_MAX_MESSAGE_LENGTH" json:"max_message_length" validate:"gt=0"`
	MaxNameLength    int `yaml:"max_name_length" env:"CHATBAT_CHAT_MAX_NAME_LENGTH" json:"max_name_length" validate:"gt=0"`
}

// Config is the top-level server configuration parsed from chatbat.yaml.
type Config struct {
	Listen        string         `yaml:"listen" env:"CHATBAT_LISTEN" json:"listen"`
	DataDir       string         `yaml:"data_dir" env:"CHATBAT_DATA_DIR" json:"data_dir"`
	LogLevel      string         `yaml:"log_level" env:"CHATBAT_LOG_LEVEL" json:"log_level"`
	LogFormat     string         `yaml:"log_format" env:"CHATBAT_LOG_FORMAT" json:"log_format" validate:"oneof=console json"`
	Storage       StorageConfig  `yaml:"storage" json:"storage"`
	Journal       JournalConfig  `yaml:"journal" json:"journal"`
	Stream        StreamConfig   `yaml:"stream" json:"stream"`
	Chat          ChatConfig     `yaml:"chat" json:"chat"`
	Announcements []Announcement `yaml:"announcements" json:"announcements" validate:"dive"`
}

var validate = validator.New()

func applyDefaults(c *Config) {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	c.DataDir = expandPath(c.DataDir)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Capacity == 0 {
		c.Storage.Capacity = 100
	}
	if c.Storage.LockTimeout == 0 {
		c.Storage.LockTimeout = 5 * time.Second
	}
	if c.Journal.Backend == "" {
		c.Journal.Backend = "file"
	}
	if c.Stream.PollInterval == 0 {
		c.Stream.PollInterval = 100 * time.Millisecond
	}
	if c.Stream.KeepaliveInterval == 0 {
		c.Stream.KeepaliveInterval = 15 * time.Second
	}
	if c.Chat.MaxMessageLength == 0 {
		c.Chat.MaxMessageLength = 4000
	}
	if c.Chat.MaxNameLength == 0 {
		c.Chat.MaxNameLength = 100
	}
	for i := range c.Announcements {
		applyAnnouncementDefaults(&c.Announcements[i])
	}
}

func expandPath(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return value
	}

	v = os.ExpandEnv(v)

	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return v
	}

	if v == "~" {
		return home
	}
	if strings.HasPrefix(v, "~/") {
		return filepath.Join(home, v[2:])
	}
	return v
}

// LoadConfig reads a YAML configuration file from path, applies CHATBAT_*
// environment overrides (including a .env file in the working directory)
// and fills in defaults. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges, backend names and announcement schedules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool, len(c.Announcements))
	for _, a := range c.Announcements {
		if seen[a.Name] {
			return fmt.Errorf("invalid config: duplicate announcement %q", a.Name)
		}
		seen[a.Name] = true
		if _, err := a.ParseSchedule(); err != nil {
			return fmt.Errorf("invalid config: announcement %q: %w", a.Name, err)
		}
	}
	return nil
}
