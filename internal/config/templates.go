package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Template returns a starter config. kind is "toml" or "yaml".
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "toml", "client":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Encode renders cfg in the format implied by path's extension.
func Encode(path string, cfg ClientConfig) ([]byte, error) {
	raw := toFile(cfg)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(raw)
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// Save writes cfg to path. Credentials are included, so the file is private.
func Save(path string, cfg ClientConfig, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	data, err := Encode(path, cfg)
	if err != nil {
		return fmt.Errorf("config encode failed (%s): %w", path, err)
	}
	return os.WriteFile(path, data, 0o600)
}

const tomlTemplate = `transport = "tcp"
backend = "local"
channel = "general"
security_mode = "development"

[[backends]]
name = "local"
transport = "tcp"
endpoint = "127.0.0.1"
port = 7440

[[backends]]
name = "local-hub"
transport = "hub"
endpoint = "127.0.0.1"
port = 7441

[[backends]]
name = "local-bridge"
transport = "bridge"
endpoint = "127.0.0.1"
port = 7441

[credentials]
app_id = "dev-app"
app_secret = "dev-secret"
user_id = "dev-user-1"
username = "guest"

[session]
heartbeat = "30s"
send_retry_interval = "2.5s"
send_max_retries = 5
reconnect_mode = "fixed"
reconnect_delay = "2.5s"
reconnect_max_delay = "30s"
reconnect_multiplier = 2.0

[hub]
path = "/signalr"
method = "GenericEncodedBinary"
version = "V1"

[bridge]
path = "/bridge"

[status]
addr = "127.0.0.1:7450"
cors_origins = ["http://localhost:3000"]
`

const yamlTemplate = `transport: hub
backend: local-hub
channel: general
security_mode: development
backends:
  - name: local
    transport: tcp
    endpoint: 127.0.0.1
    port: 7440
  - name: local-hub
    transport: hub
    endpoint: 127.0.0.1
    port: 7441
  - name: local-bridge
    transport: bridge
    endpoint: 127.0.0.1
    port: 7441
credentials:
  app_id: dev-app
  app_secret: dev-secret
  user_id: dev-user-1
  username: guest
session:
  heartbeat: 30s
  send_retry_interval: 2.5s
  send_max_retries: 5
  reconnect_mode: jittered
  reconnect_delay: 2.5s
  reconnect_max_delay: 30s
  reconnect_multiplier: 2
status:
  addr: 127.0.0.1:7450
`
