package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/upkeep-io/upkeep/internal/authz"
	"github.com/upkeep-io/upkeep/pkg/protocol"
)

// Config is the top-level upkeep configuration.
type Config struct {
	Bot      BotConfig      `json:"bot"`
	Telegram TelegramConfig `json:"telegram"`
	Roles    authz.Roles    `json:"roles"`
	Slack    *SlackConfig   `json:"slack,omitempty"`
	API      APIConfig      `json:"api"`
	Export   ExportConfig   `json:"export"`
}

// BotConfig holds process-level settings.
type BotConfig struct {
	DataDir string `json:"data_dir"`
}

// TelegramConfig holds the Telegram bot and chat-surface settings.
type TelegramConfig struct {
	Token      string                   `json:"token"`
	GroupChats map[protocol.Group]int64 `json:"group_chats"` // group → chat id
	AuditChat  int64                    `json:"audit_chat,omitempty"`
}

// SlackConfig holds the optional Slack audit-sink settings.
type SlackConfig struct {
	BotToken     string `json:"bot_token"`
	AuditChannel string `json:"audit_channel"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// ExportConfig holds the scheduled export digest settings.
type ExportConfig struct {
	Schedule string `json:"schedule,omitempty"` // cron expression, empty disables
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with UPKEEP_
// prefix. Group chat IDs use the legacy variable names the original
// deployment shipped with (CHAT_ID_SVS etc.).
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Bot: BotConfig{
			DataDir: getenv("UPKEEP_DATA_DIR", "data"),
		},
		Telegram: TelegramConfig{
			Token:      os.Getenv("UPKEEP_BOT_TOKEN"),
			GroupChats: make(map[protocol.Group]int64),
		},
		API: APIConfig{
			Host: getenv("UPKEEP_API_HOST", "127.0.0.1"),
			Port: getenvInt("UPKEEP_API_PORT", 8080),
			Key:  os.Getenv("UPKEEP_API_KEY"),
		},
		Export: ExportConfig{
			Schedule: os.Getenv("UPKEEP_EXPORT_SCHEDULE"),
		},
	}

	for group, key := range map[protocol.Group]string{
		protocol.GroupSVS: "UPKEEP_CHAT_ID_SVS",
		protocol.GroupSGE: "UPKEEP_CHAT_ID_SGE",
		protocol.GroupSST: "UPKEEP_CHAT_ID_SST",
	} {
		if v := os.Getenv(key); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("config: %s must be an integer chat id, got %q", key, v)
			}
			cfg.Telegram.GroupChats[group] = id
		}
	}
	if v := os.Getenv("UPKEEP_AUDIT_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: UPKEEP_AUDIT_CHAT_ID must be an integer chat id, got %q", v)
		}
		cfg.Telegram.AuditChat = id
	}

	if ids := os.Getenv("UPKEEP_ADMIN_IDS"); ids != "" {
		parsed, err := parseInt64List(ids)
		if err != nil {
			return nil, fmt.Errorf("config: UPKEEP_ADMIN_IDS: %w", err)
		}
		cfg.Roles.Admins = parsed
	}

	if token := os.Getenv("UPKEEP_SLACK_TOKEN"); token != "" {
		cfg.Slack = &SlackConfig{
			BotToken:     token,
			AuditChannel: os.Getenv("UPKEEP_SLACK_AUDIT_CHANNEL"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Bot.DataDir == "" {
		errs = append(errs, "bot.data_dir is required")
	}
	if c.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required")
	}
	for group, chatID := range c.Telegram.GroupChats {
		known := false
		for _, g := range protocol.Groups() {
			if group == g {
				known = true
			}
		}
		if !known {
			errs = append(errs, fmt.Sprintf("telegram.group_chats: unknown group %q", group))
		}
		if chatID == 0 {
			errs = append(errs, fmt.Sprintf("telegram.group_chats.%s must be a chat id", group))
		}
	}
	if c.Slack != nil {
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
		if c.Slack.AuditChannel == "" {
			errs = append(errs, "slack.audit_channel is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
