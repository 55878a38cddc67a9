package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"twitchtmi/client"
)

type App struct {
	LogLevel   string `json:"log_level"`
	LogFile    string `json:"log_file"`
	ListenAddr string `json:"listen_addr"` // HTTP address for /healthz and /metrics
}

type Identity struct {
	Username string `json:"username"`
	OAuth    string `json:"oauth"`
	ClientID string `json:"client_id"`
}

type Connection struct {
	Server    string `json:"server"`
	Port      int    `json:"port"`
	Secure    *bool  `json:"secure"`
	Transport string `json:"transport"` // "tcp" or "ws"
	Proxy     string `json:"proxy"`     // SOCKS5 address, host:port

	Reconnect            *bool   `json:"reconnect"`
	ReconnectIntervalMs  int     `json:"reconnect_interval_ms"`
	ReconnectDecay       float64 `json:"reconnect_decay"`
	MaxReconnectMs       int     `json:"max_reconnect_ms"`
	MaxReconnectAttempts int     `json:"max_reconnect_attempts"`

	TimeoutMs       int `json:"timeout_ms"`
	PingIntervalSec int `json:"ping_interval_sec"`
}

type Intervals struct {
	JoinMs           int `json:"join_ms"`
	MessageMs        int `json:"message_ms"`
	CommandMs        int `json:"command_ms"`
	CommandTimeoutMs int `json:"command_timeout_ms"`
}

type Config struct {
	App            App        `json:"app"`
	Identity       Identity   `json:"identity"`
	Connection     Connection `json:"connection"`
	Intervals      Intervals  `json:"intervals"`
	Channels       []string   `json:"channels"`
	SkipMembership bool       `json:"skip_membership"`
}

type Manager struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

func New(path string) (*Manager, error) {
	m := &Manager{path: path}

	var err error
	m.cfg, err = m.readParseValidate(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.cfg = defaults()
			data, err := json.MarshalIndent(m.cfg, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("marshal config: %w", err)
			}
			if err := m.writeAtomic(path, data, 0644); err != nil {
				return nil, fmt.Errorf("write config: %w", err)
			}
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	return m, nil
}

func defaults() *Config {
	return &Config{
		App: App{
			LogLevel:   "info",
			ListenAddr: ":8080",
		},
		Connection: Connection{
			Transport: "tcp",
		},
	}
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.cfg
}

func (m *Manager) Update(modify func(cfg *Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg == nil {
		return errors.New("no config loaded")
	}

	modify(m.cfg)

	if err := m.validate(m.cfg); err != nil {
		return fmt.Errorf("invalid config update: %w", err)
	}

	return m.saveLocked()
}

func (m *Manager) readParseValidate(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open/read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	if err := m.validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return &cfg, nil
}

func (m *Manager) validate(cfg *Config) error {
	validLevels := map[string]bool{"": true, "trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.App.LogLevel] {
		return fmt.Errorf("app.log_level must be one of trace, debug, info, warn, error; got %s", cfg.App.LogLevel)
	}

	if cfg.Identity.Username != "" && cfg.Identity.OAuth == "" {
		return errors.New("identity.oauth is required when identity.username is set")
	}
	if cfg.Identity.OAuth != "" && cfg.Identity.Username == "" {
		return errors.New("identity.username is required when identity.oauth is set")
	}

	if t := cfg.Connection.Transport; t != "" && t != "tcp" && t != "ws" {
		return fmt.Errorf("connection.transport must be 'tcp' or 'ws'; got %s", t)
	}
	if cfg.Connection.Port < 0 || cfg.Connection.Port > 65535 {
		return errors.New("connection.port must be in 0..65535")
	}
	if cfg.Connection.Proxy != "" && !strings.Contains(cfg.Connection.Proxy, ":") {
		return errors.New("connection.proxy must be host:port")
	}
	if cfg.Connection.ReconnectIntervalMs < 0 {
		return errors.New("connection.reconnect_interval_ms must be >= 0")
	}
	if d := cfg.Connection.ReconnectDecay; d != 0 && d < 1 {
		return errors.New("connection.reconnect_decay must be >= 1")
	}
	if cfg.Connection.MaxReconnectMs < 0 {
		return errors.New("connection.max_reconnect_ms must be >= 0")
	}
	if cfg.Connection.TimeoutMs < 0 {
		return errors.New("connection.timeout_ms must be >= 0")
	}
	if cfg.Connection.PingIntervalSec < 0 {
		return errors.New("connection.ping_interval_sec must be >= 0")
	}

	if cfg.Intervals.JoinMs < 0 || cfg.Intervals.MessageMs < 0 ||
		cfg.Intervals.CommandMs < 0 || cfg.Intervals.CommandTimeoutMs < 0 {
		return errors.New("intervals must be >= 0")
	}

	for _, ch := range cfg.Channels {
		if strings.TrimSpace(strings.TrimPrefix(ch, "#")) == "" {
			return errors.New("channels must not contain empty names")
		}
	}

	return nil
}

// ClientOptions maps the loaded file onto client.Options. Zero values
// fall through to the client defaults.
func (m *Manager) ClientOptions() client.Options {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := m.cfg
	return client.Options{
		Identity: client.Identity{
			Username: cfg.Identity.Username,
			Password: cfg.Identity.OAuth,
			ClientID: cfg.Identity.ClientID,
		},
		Connection: client.Connection{
			Server:               cfg.Connection.Server,
			Port:                 cfg.Connection.Port,
			Secure:               cfg.Connection.Secure,
			Transport:            cfg.Connection.Transport,
			Proxy:                cfg.Connection.Proxy,
			Reconnect:            cfg.Connection.Reconnect,
			ReconnectInterval:    time.Duration(cfg.Connection.ReconnectIntervalMs) * time.Millisecond,
			ReconnectDecay:       cfg.Connection.ReconnectDecay,
			MaxReconnectInterval: time.Duration(cfg.Connection.MaxReconnectMs) * time.Millisecond,
			MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
			Timeout:              time.Duration(cfg.Connection.TimeoutMs) * time.Millisecond,
			PingInterval:         time.Duration(cfg.Connection.PingIntervalSec) * time.Second,
		},
		Channels: cfg.Channels,
		Logging: client.Logging{
			Level: cfg.App.LogLevel,
		},
		JoinInterval:    time.Duration(cfg.Intervals.JoinMs) * time.Millisecond,
		MessageInterval: time.Duration(cfg.Intervals.MessageMs) * time.Millisecond,
		CommandInterval: time.Duration(cfg.Intervals.CommandMs) * time.Millisecond,
		CommandTimeout:  time.Duration(cfg.Intervals.CommandTimeoutMs) * time.Millisecond,
		SkipMembership:  cfg.SkipMembership,
	}
}

func (m *Manager) saveLocked() error {
	if m.path == "" {
		return errors.New("no config file loaded")
	}
	if m.cfg == nil {
		return errors.New("no config to save")
	}

	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return m.writeAtomic(m.path, data, 0644)
}

func (m *Manager) writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", base, time.Now().UnixNano()))

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
