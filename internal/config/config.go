// Package config loads chatctl client configuration from TOML or YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/chatlink/internal/bridge/wshost"
	"github.com/danmuck/chatlink/internal/session"
	"github.com/danmuck/chatlink/internal/transport"
	"github.com/danmuck/chatlink/internal/transport/bridge"
	"github.com/danmuck/chatlink/internal/transport/hub"
	"github.com/danmuck/chatlink/internal/transport/tcp"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownTransport = errors.New("config: unknown transport")
	ErrNoBackend        = errors.New("config: no matching backend")
	ErrUnknownKeys      = errors.New("config: unknown keys")
)

// Transports lists the supported transport names.
var Transports = []string{tcp.Name, hub.Name, bridge.Name}

// Backend is one named server endpoint.
type Backend struct {
	Name      string `toml:"name" yaml:"name"`
	Transport string `toml:"transport" yaml:"transport"`
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	Port      int    `toml:"port" yaml:"port"`
}

type StatusConfig struct {
	Addr        string
	CORSOrigins []string
}

// ClientConfig is the resolved client configuration.
type ClientConfig struct {
	Transport   string
	Backend     string
	Backends    []Backend
	Channel     string
	Credentials session.Credentials
	Session     session.Config
	Dial        transport.Options
	Hub         hub.Config
	Bridge      wshost.Config
	Status      StatusConfig
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Transport: tcp.Name,
		Backends: []Backend{
			{Name: "local", Transport: tcp.Name, Endpoint: "127.0.0.1", Port: 7440},
			{Name: "local-hub", Transport: hub.Name, Endpoint: "127.0.0.1", Port: 7441},
			{Name: "local-bridge", Transport: bridge.Name, Endpoint: "127.0.0.1", Port: 7441},
		},
		Channel: "general",
		Session: session.DefaultConfig(),
		Dial:    transport.DefaultOptions(),
		Hub:     hub.Config{}.WithDefaults(),
		Bridge:  wshost.Config{Path: wshost.DefaultPath},
	}
}

// Load reads path, choosing YAML for .yaml/.yml and TOML otherwise, and
// validates the result.
func Load(path string) (ClientConfig, error) {
	var (
		cfg ClientConfig
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = loadYAML(path)
	default:
		cfg, err = loadTOML(path)
	}
	if err != nil {
		return ClientConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// loadTOML overlays the keys present in the file onto the defaults.
func loadTOML(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return ClientConfig{}, fmt.Errorf("%w (%s): %s", ErrUnknownKeys, path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("backend") {
		cfg.Backend = strings.TrimSpace(raw.Backend)
	}
	if meta.IsDefined("backends") {
		cfg.Backends = raw.Backends
	}
	if meta.IsDefined("channel") {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if meta.IsDefined("security_mode") {
		cfg.Dial.SecurityMode = transport.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}

	if meta.IsDefined("credentials", "app_id") {
		cfg.Credentials.AppID = strings.TrimSpace(raw.Credentials.AppID)
	}
	if meta.IsDefined("credentials", "app_secret") {
		cfg.Credentials.AppSecret = raw.Credentials.AppSecret
	}
	if meta.IsDefined("credentials", "user_id") {
		cfg.Credentials.UniqueUserID = strings.TrimSpace(raw.Credentials.UserID)
	}
	if meta.IsDefined("credentials", "username") {
		cfg.Credentials.Username = strings.TrimSpace(raw.Credentials.Username)
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"session", "heartbeat"}, raw.Session.Heartbeat, &cfg.Session.HeartbeatInterval},
		{[]string{"session", "send_retry_interval"}, raw.Session.SendRetryInterval, &cfg.Session.SendRetryInterval},
		{[]string{"session", "reconnect_delay"}, raw.Session.ReconnectDelay, &cfg.Session.Reconnect.Delay},
		{[]string{"session", "reconnect_max_delay"}, raw.Session.ReconnectMaxDelay, &cfg.Session.Reconnect.MaxDelay},
		{[]string{"dial", "connect_timeout"}, raw.Dial.ConnectTimeout, &cfg.Dial.ConnectTimeout},
		{[]string{"dial", "handshake_timeout"}, raw.Dial.HandshakeTimeout, &cfg.Dial.HandshakeTimeout},
		{[]string{"dial", "write_timeout"}, raw.Dial.WriteTimeout, &cfg.Dial.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := parseDuration(strings.Join(d.key, "."), d.raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "send_max_retries") {
		cfg.Session.SendMaxRetries = raw.Session.SendMaxRetries
	}
	if meta.IsDefined("session", "reconnect_mode") {
		mode, err := session.ParseReconnectMode(raw.Session.ReconnectMode)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		cfg.Session.Reconnect.Mode = mode
	}
	if meta.IsDefined("session", "reconnect_multiplier") {
		cfg.Session.Reconnect.Multiplier = raw.Session.ReconnectMultiplier
	}

	if meta.IsDefined("tls") {
		cfg.Dial.TLS = raw.TLS.options()
	}
	if meta.IsDefined("hub", "path") {
		cfg.Hub.Path = strings.TrimSpace(raw.Hub.Path)
	}
	if meta.IsDefined("hub", "method") {
		cfg.Hub.Method = strings.TrimSpace(raw.Hub.Method)
	}
	if meta.IsDefined("hub", "version") {
		cfg.Hub.Version = strings.TrimSpace(raw.Hub.Version)
	}
	if meta.IsDefined("bridge", "path") {
		cfg.Bridge.Path = strings.TrimSpace(raw.Bridge.Path)
	}
	if meta.IsDefined("status", "addr") {
		cfg.Status.Addr = strings.TrimSpace(raw.Status.Addr)
	}
	if meta.IsDefined("status", "cors_origins") {
		cfg.Status.CORSOrigins = raw.Status.CORSOrigins
	}
	return finish(cfg), nil
}

// loadYAML decodes over the file form of the defaults; yaml.v3 leaves absent
// keys untouched.
func loadYAML(path string) (ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	raw := toFile(DefaultClientConfig())
	raw.Backends = nil
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return ClientConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if raw.Backends == nil {
		raw.Backends = DefaultClientConfig().Backends
	}
	cfg, err := fromFile(raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return finish(cfg), nil
}

func finish(cfg ClientConfig) ClientConfig {
	cfg.Session = cfg.Session.WithDefaults()
	cfg.Dial = cfg.Dial.WithDefaults()
	cfg.Hub = cfg.Hub.WithDefaults()
	if cfg.Bridge.Path == "" {
		cfg.Bridge.Path = wshost.DefaultPath
	}
	for i := range cfg.Backends {
		cfg.Backends[i].Transport = strings.ToLower(strings.TrimSpace(cfg.Backends[i].Transport))
	}
	return cfg
}

func Validate(cfg ClientConfig) error {
	if !knownTransport(cfg.Transport) {
		return fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
	for i, b := range cfg.Backends {
		if err := ValidateBackend(b); err != nil {
			return fmt.Errorf("backends[%d] invalid: %w", i, err)
		}
	}
	if strings.TrimSpace(cfg.Credentials.AppID) == "" {
		return fmt.Errorf("credentials missing app_id")
	}
	if _, err := session.ParseReconnectMode(string(cfg.Session.Reconnect.Mode)); err != nil {
		return err
	}
	if err := cfg.Dial.ValidateClient(); err != nil {
		return err
	}
	if cfg.Backend != "" {
		if _, err := cfg.SelectBackend(); err != nil {
			return err
		}
	}
	return nil
}

func ValidateBackend(b Backend) error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !knownTransport(b.Transport) {
		return fmt.Errorf("%w: %q", ErrUnknownTransport, b.Transport)
	}
	return transport.ValidateEndpoint(strings.TrimSpace(b.Endpoint), b.Port)
}

// SelectBackend returns the configured backend by name, or the first backend
// for the configured transport.
func (c ClientConfig) SelectBackend() (Backend, error) {
	return SelectBackend(c.Backends, c.Backend, c.Transport)
}

func SelectBackend(backends []Backend, name, transportName string) (Backend, error) {
	name = strings.TrimSpace(name)
	for _, b := range backends {
		if name != "" && strings.EqualFold(b.Name, name) {
			if transportName != "" && !strings.EqualFold(b.Transport, transportName) {
				return Backend{}, fmt.Errorf("%w: backend %q uses %s, not %s", ErrNoBackend, b.Name, b.Transport, transportName)
			}
			return b, nil
		}
	}
	if name != "" {
		return Backend{}, fmt.Errorf("%w: %q", ErrNoBackend, name)
	}
	for _, b := range backends {
		if strings.EqualFold(b.Transport, transportName) {
			return b, nil
		}
	}
	return Backend{}, fmt.Errorf("%w: transport %s", ErrNoBackend, transportName)
}

func knownTransport(name string) bool {
	for _, t := range Transports {
		if name == t {
			return true
		}
	}
	return false
}
