package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/upkeep-io/upkeep/pkg/protocol"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"bot": {"data_dir": "/var/lib/upkeep"},
		"telegram": {
			"token": "123:abc",
			"group_chats": {"СВС": -1001, "СГЭ": -1002, "ССТ": -1003},
			"audit_chat": -1009
		},
		"roles": {
			"admins": [1],
			"groups": {"СВС": {"leaders": [10], "executors": [20]}}
		},
		"api": {"host": "127.0.0.1", "port": 8080, "api_key": "k"},
		"export": {"schedule": "0 9 * * *"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.GroupChats[protocol.GroupSVS] != -1001 {
		t.Errorf("СВС chat = %d", cfg.Telegram.GroupChats[protocol.GroupSVS])
	}
	if cfg.Telegram.AuditChat != -1009 {
		t.Errorf("audit chat = %d", cfg.Telegram.AuditChat)
	}
	if len(cfg.Roles.Groups[protocol.GroupSVS].Leaders) != 1 {
		t.Error("roles not parsed")
	}
	if cfg.Export.Schedule != "0 9 * * *" {
		t.Errorf("schedule = %q", cfg.Export.Schedule)
	}
}

func TestValidateErrors(t *testing.T) {
	path := writeConfig(t, `{
		"bot": {"data_dir": ""},
		"telegram": {"token": "", "group_chats": {"XXX": 0}}
	}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"data_dir", "telegram.token", "unknown group"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("UPKEEP_BOT_TOKEN", "123:abc")
	t.Setenv("UPKEEP_CHAT_ID_SVS", "-1001")
	t.Setenv("UPKEEP_ADMIN_IDS", "1, 2")
	t.Setenv("UPKEEP_AUDIT_CHAT_ID", "-1009")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load from env: %v", err)
	}
	if cfg.Telegram.GroupChats[protocol.GroupSVS] != -1001 {
		t.Errorf("СВС chat = %d", cfg.Telegram.GroupChats[protocol.GroupSVS])
	}
	if len(cfg.Roles.Admins) != 2 {
		t.Errorf("admins = %v", cfg.Roles.Admins)
	}
}

func TestLoadFromEnvBadChatID(t *testing.T) {
	t.Setenv("UPKEEP_BOT_TOKEN", "123:abc")
	t.Setenv("UPKEEP_CHAT_ID_SGE", "not-a-number")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for malformed chat id")
	}
}
