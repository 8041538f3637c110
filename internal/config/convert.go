package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/chatlink/internal/bridge/wshost"
	"github.com/danmuck/chatlink/internal/session"
	"github.com/danmuck/chatlink/internal/transport"
	"github.com/danmuck/chatlink/internal/transport/hub"
)

// fileConfig is the on-disk key layout shared by the TOML and YAML forms.
type fileConfig struct {
	Transport    string         `toml:"transport" yaml:"transport"`
	Backend      string         `toml:"backend" yaml:"backend"`
	Channel      string         `toml:"channel" yaml:"channel"`
	SecurityMode string         `toml:"security_mode" yaml:"security_mode"`
	Backends     []Backend      `toml:"backends" yaml:"backends"`
	Credentials  credentialFile `toml:"credentials" yaml:"credentials"`
	Session      sessionFile    `toml:"session" yaml:"session"`
	Dial         dialFile       `toml:"dial" yaml:"dial"`
	TLS          tlsFile        `toml:"tls" yaml:"tls"`
	Hub          hubFile        `toml:"hub" yaml:"hub"`
	Bridge       bridgeFile     `toml:"bridge" yaml:"bridge"`
	Status       statusFile     `toml:"status" yaml:"status"`
}

type credentialFile struct {
	AppID     string `toml:"app_id" yaml:"app_id"`
	AppSecret string `toml:"app_secret" yaml:"app_secret"`
	UserID    string `toml:"user_id" yaml:"user_id"`
	Username  string `toml:"username" yaml:"username"`
}

type sessionFile struct {
	Heartbeat           string  `toml:"heartbeat" yaml:"heartbeat"`
	SendRetryInterval   string  `toml:"send_retry_interval" yaml:"send_retry_interval"`
	SendMaxRetries      int     `toml:"send_max_retries" yaml:"send_max_retries"`
	ReconnectMode       string  `toml:"reconnect_mode" yaml:"reconnect_mode"`
	ReconnectDelay      string  `toml:"reconnect_delay" yaml:"reconnect_delay"`
	ReconnectMaxDelay   string  `toml:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	ReconnectMultiplier float64 `toml:"reconnect_multiplier" yaml:"reconnect_multiplier"`
}

type dialFile struct {
	ConnectTimeout   string `toml:"connect_timeout" yaml:"connect_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     string `toml:"write_timeout" yaml:"write_timeout"`
}

type tlsFile struct {
	Enabled            bool   `toml:"enabled" yaml:"enabled"`
	Mutual             bool   `toml:"mutual" yaml:"mutual"`
	CertFile           string `toml:"cert_file" yaml:"cert_file"`
	KeyFile            string `toml:"key_file" yaml:"key_file"`
	CAFile             string `toml:"ca_file" yaml:"ca_file"`
	ServerName         string `toml:"server_name" yaml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

func (f tlsFile) options() transport.TLS {
	return transport.TLS{
		Enabled:            f.Enabled,
		Mutual:             f.Mutual,
		CertFile:           strings.TrimSpace(f.CertFile),
		KeyFile:            strings.TrimSpace(f.KeyFile),
		CAFile:             strings.TrimSpace(f.CAFile),
		ServerName:         strings.TrimSpace(f.ServerName),
		InsecureSkipVerify: f.InsecureSkipVerify,
	}
}

type hubFile struct {
	Path    string `toml:"path" yaml:"path"`
	Method  string `toml:"method" yaml:"method"`
	Version string `toml:"version" yaml:"version"`
}

type bridgeFile struct {
	Path string `toml:"path" yaml:"path"`
}

type statusFile struct {
	Addr        string   `toml:"addr" yaml:"addr"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
}

func toFile(cfg ClientConfig) fileConfig {
	backends := make([]Backend, len(cfg.Backends))
	copy(backends, cfg.Backends)
	return fileConfig{
		Transport:    cfg.Transport,
		Backend:      cfg.Backend,
		Channel:      cfg.Channel,
		SecurityMode: string(cfg.Dial.SecurityMode),
		Backends:     backends,
		Credentials: credentialFile{
			AppID:     cfg.Credentials.AppID,
			AppSecret: cfg.Credentials.AppSecret,
			UserID:    cfg.Credentials.UniqueUserID,
			Username:  cfg.Credentials.Username,
		},
		Session: sessionFile{
			Heartbeat:           cfg.Session.HeartbeatInterval.String(),
			SendRetryInterval:   cfg.Session.SendRetryInterval.String(),
			SendMaxRetries:      cfg.Session.SendMaxRetries,
			ReconnectMode:       string(cfg.Session.Reconnect.Mode),
			ReconnectDelay:      cfg.Session.Reconnect.Delay.String(),
			ReconnectMaxDelay:   cfg.Session.Reconnect.MaxDelay.String(),
			ReconnectMultiplier: cfg.Session.Reconnect.Multiplier,
		},
		Dial: dialFile{
			ConnectTimeout:   cfg.Dial.ConnectTimeout.String(),
			HandshakeTimeout: cfg.Dial.HandshakeTimeout.String(),
			WriteTimeout:     cfg.Dial.WriteTimeout.String(),
		},
		TLS: tlsFile{
			Enabled:            cfg.Dial.TLS.Enabled,
			Mutual:             cfg.Dial.TLS.Mutual,
			CertFile:           cfg.Dial.TLS.CertFile,
			KeyFile:            cfg.Dial.TLS.KeyFile,
			CAFile:             cfg.Dial.TLS.CAFile,
			ServerName:         cfg.Dial.TLS.ServerName,
			InsecureSkipVerify: cfg.Dial.TLS.InsecureSkipVerify,
		},
		Hub:    hubFile{Path: cfg.Hub.Path, Method: cfg.Hub.Method, Version: cfg.Hub.Version},
		Bridge: bridgeFile{Path: cfg.Bridge.Path},
		Status: statusFile{Addr: cfg.Status.Addr, CORSOrigins: cfg.Status.CORSOrigins},
	}
}

func fromFile(raw fileConfig) (ClientConfig, error) {
	cfg := ClientConfig{
		Transport: strings.ToLower(strings.TrimSpace(raw.Transport)),
		Backend:   strings.TrimSpace(raw.Backend),
		Backends:  raw.Backends,
		Channel:   strings.TrimSpace(raw.Channel),
		Credentials: session.Credentials{
			AppID:        strings.TrimSpace(raw.Credentials.AppID),
			AppSecret:    raw.Credentials.AppSecret,
			UniqueUserID: strings.TrimSpace(raw.Credentials.UserID),
			Username:     strings.TrimSpace(raw.Credentials.Username),
		},
		Dial: transport.Options{
			SecurityMode: transport.SecurityMode(strings.TrimSpace(raw.SecurityMode)),
			TLS:          raw.TLS.options(),
		},
		Hub: hub.Config{
			Path:    strings.TrimSpace(raw.Hub.Path),
			Method:  strings.TrimSpace(raw.Hub.Method),
			Version: strings.TrimSpace(raw.Hub.Version),
		},
		Bridge: wshost.Config{Path: strings.TrimSpace(raw.Bridge.Path)},
		Status: StatusConfig{Addr: strings.TrimSpace(raw.Status.Addr), CORSOrigins: raw.Status.CORSOrigins},
	}
	mode, err := session.ParseReconnectMode(raw.Session.ReconnectMode)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.Session.Reconnect.Mode = mode
	cfg.Session.Reconnect.Multiplier = raw.Session.ReconnectMultiplier
	cfg.Session.SendMaxRetries = raw.Session.SendMaxRetries

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"session.heartbeat", raw.Session.Heartbeat, &cfg.Session.HeartbeatInterval},
		{"session.send_retry_interval", raw.Session.SendRetryInterval, &cfg.Session.SendRetryInterval},
		{"session.reconnect_delay", raw.Session.ReconnectDelay, &cfg.Session.Reconnect.Delay},
		{"session.reconnect_max_delay", raw.Session.ReconnectMaxDelay, &cfg.Session.Reconnect.MaxDelay},
		{"dial.connect_timeout", raw.Dial.ConnectTimeout, &cfg.Dial.ConnectTimeout},
		{"dial.handshake_timeout", raw.Dial.HandshakeTimeout, &cfg.Dial.HandshakeTimeout},
		{"dial.write_timeout", raw.Dial.WriteTimeout, &cfg.Dial.WriteTimeout},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := parseDuration(d.key, d.raw)
		if err != nil {
			return ClientConfig{}, err
		}
		*d.dst = v
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", key, raw)
	}
	return v, nil
}
