package session

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// Config holds the session timing defaults.
type Config struct {
	HeartbeatInterval time.Duration
	SendRetryInterval time.Duration
	SendMaxRetries    int
	Reconnect         ReconnectConfig
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		SendRetryInterval: 2500 * time.Millisecond,
		SendMaxRetries:    5,
		Reconnect: ReconnectConfig{
			Mode:       ReconnectFixed,
			Delay:      2500 * time.Millisecond,
			Multiplier: 2.0,
			MaxDelay:   30 * time.Second,
		},
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.SendRetryInterval <= 0 {
		c.SendRetryInterval = d.SendRetryInterval
	}
	if c.SendMaxRetries <= 0 {
		c.SendMaxRetries = d.SendMaxRetries
	}
	if strings.TrimSpace(string(c.Reconnect.Mode)) == "" {
		c.Reconnect.Mode = d.Reconnect.Mode
	}
	if c.Reconnect.Delay <= 0 {
		c.Reconnect.Delay = d.Reconnect.Delay
	}
	if c.Reconnect.Multiplier <= 0 {
		c.Reconnect.Multiplier = d.Reconnect.Multiplier
	}
	if c.Reconnect.MaxDelay <= 0 {
		c.Reconnect.MaxDelay = d.Reconnect.MaxDelay
	}
	return c
}

// Credentials identify the application and user during the handshake.
type Credentials struct {
	AppID        string
	AppSecret    string
	UniqueUserID string
	Username     string
}

// Profile is the runtime metadata reported in UserInfo.
type Profile struct {
	Platform       string
	RuntimeVersion string
	Mode           string
	Language       string
}

func DefaultProfile() Profile {
	lang := "en"
	if raw := strings.TrimSpace(os.Getenv("LANG")); raw != "" && raw != "C" && raw != "POSIX" {
		lang = strings.SplitN(strings.SplitN(raw, ".", 2)[0], "_", 2)[0]
	}
	return Profile{
		Platform:       fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		RuntimeVersion: runtime.Version(),
		Mode:           "standalone",
		Language:       lang,
	}
}
