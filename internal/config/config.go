package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon's config.toml. Every required key is
// validated eagerly at startup; a missing key is a fatal, descriptive error
// rather than a nil dereference three components later.
type Config struct {
	DataDir string `toml:"data_dir"`

	Server   Server   `toml:"server"`
	Calendar Calendar `toml:"calendar"`
	Chat     Chat     `toml:"chat"`
	Queue    Queue    `toml:"queue"`
	Sync     Sync     `toml:"sync"`
}

// Server configures the HTTP listener used for OAuth registration and the
// admin API.
type Server struct {
	ListenAddr string `toml:"listen_addr"`

	// OAuth application credentials for the chat workspace.
	OAuthClientID     string `toml:"oauth_client_id"`
	OAuthClientSecret string `toml:"oauth_client_secret"`
	OAuthRedirectURL  string `toml:"oauth_redirect_url"`
}

// Calendar configures the calendar source client.
type Calendar struct {
	BaseURL      string `toml:"base_url"`
	ServiceToken string `toml:"service_token"`
}

// Chat configures the chat sink client. AdminToken is a service-level
// credential scoped for directory listing; it is never a registered user's
// personal token.
type Chat struct {
	BaseURL    string `toml:"base_url"`
	AdminToken string `toml:"admin_token"`
}

// Queue configures the chat-command queue consumer.
type Queue struct {
	URL               string `toml:"url"`
	Subject           string `toml:"subject"`
	VerificationToken string `toml:"verification_token"`
}

// Sync configures the status-sync engine.
type Sync struct {
	PollInterval      duration `toml:"poll_interval"`
	CallTimeout       duration `toml:"call_timeout"`
	MaxConcurrent     int      `toml:"max_concurrent"`
	DirectoryInterval duration `toml:"directory_interval"`

	BusyText      string `toml:"busy_text"`
	BusyEmoji     string `toml:"busy_emoji"`
	AwayText      string `toml:"away_text"`
	AwayEmoji     string `toml:"away_emoji"`
	TentativeBusy bool   `toml:"tentative_busy"`
}

// duration wraps time.Duration for TOML decoding of "30s"-style values.
type duration struct {
	time.Duration
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Load reads and validates config from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8400"
	}
	if c.Sync.PollInterval.Duration == 0 {
		c.Sync.PollInterval.Duration = 30 * time.Second
	}
	if c.Sync.CallTimeout.Duration == 0 {
		c.Sync.CallTimeout.Duration = 5 * time.Second
	}
	if c.Sync.MaxConcurrent == 0 {
		c.Sync.MaxConcurrent = 8
	}
	if c.Sync.DirectoryInterval.Duration == 0 {
		c.Sync.DirectoryInterval.Duration = 10 * time.Minute
	}
	if c.Sync.BusyText == "" {
		c.Sync.BusyText = "In a meeting"
	}
	if c.Sync.BusyEmoji == "" {
		c.Sync.BusyEmoji = ":calendar:"
	}
	if c.Sync.AwayText == "" {
		c.Sync.AwayText = "Out of office"
	}
	if c.Sync.AwayEmoji == "" {
		c.Sync.AwayEmoji = ":palm_tree:"
	}
}

// Validate reports every missing required key at once.
func (c *Config) Validate() error {
	var missing []string
	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}
	require("server.oauth_client_id", c.Server.OAuthClientID)
	require("server.oauth_client_secret", c.Server.OAuthClientSecret)
	require("server.oauth_redirect_url", c.Server.OAuthRedirectURL)
	require("calendar.base_url", c.Calendar.BaseURL)
	require("calendar.service_token", c.Calendar.ServiceToken)
	require("chat.base_url", c.Chat.BaseURL)
	require("chat.admin_token", c.Chat.AdminToken)
	require("queue.url", c.Queue.URL)
	require("queue.subject", c.Queue.Subject)
	require("queue.verification_token", c.Queue.VerificationToken)
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required keys: %s", strings.Join(missing, ", "))
	}
	if c.Sync.PollInterval.Duration < time.Second {
		return fmt.Errorf("config: sync.poll_interval must be at least 1s, got %s", c.Sync.PollInterval)
	}
	if c.Sync.MaxConcurrent < 1 {
		return fmt.Errorf("config: sync.max_concurrent must be positive, got %d", c.Sync.MaxConcurrent)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
