package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validToml = `
data_dir = "/tmp/presenced-test"

[server]
oauth_client_id = "client-id"
oauth_client_secret = "client-secret"
oauth_redirect_url = "https://example.com/oauth/callback"

[calendar]
base_url = "https://calendar.example.com"
service_token = "svc-token"

[chat]
base_url = "https://chat.example.com"
admin_token = "admin-token"

[queue]
url = "nats://127.0.0.1:4222"
subject = "presence.commands"
verification_token = "verify-me"

[sync]
poll_interval = "45s"
tentative_busy = true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validToml))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.PollInterval.Duration != 45*time.Second {
		t.Errorf("PollInterval = %v, want 45s", cfg.Sync.PollInterval.Duration)
	}
	if !cfg.Sync.TentativeBusy {
		t.Error("TentativeBusy not decoded")
	}
	// Defaults fill unset keys.
	if cfg.Server.ListenAddr != ":8400" {
		t.Errorf("ListenAddr default = %q", cfg.Server.ListenAddr)
	}
	if cfg.Sync.BusyText == "" || cfg.Sync.MaxConcurrent != 8 {
		t.Errorf("sync defaults not applied: %+v", cfg.Sync)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.toml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

// Validation must name every missing required key, not fail one at a time.
func TestLoadMissingKeys(t *testing.T) {
	_, err := Load(writeConfig(t, `
[server]
oauth_client_id = "client-id"
`))
	if err == nil {
		t.Fatal("Load() succeeded with missing keys")
	}
	for _, key := range []string{
		"server.oauth_client_secret",
		"calendar.base_url",
		"chat.admin_token",
		"queue.verification_token",
	} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error does not name %s: %v", key, err)
		}
	}
}

func TestLoadUnknownKeyRejected(t *testing.T) {
	_, err := Load(writeConfig(t, validToml+"\ntypo_key = true\n"))
	if err == nil || !strings.Contains(err.Error(), "typo_key") {
		t.Errorf("unknown key not rejected: %v", err)
	}
}

func TestLoadBadPollInterval(t *testing.T) {
	bad := strings.Replace(validToml, `poll_interval = "45s"`, `poll_interval = "100ms"`, 1)
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Error("sub-second poll interval accepted")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(writeConfig(t, validToml))
	if err != nil {
		t.Fatal(err)
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
