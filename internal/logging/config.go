package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"

	logs "github.com/danmuck/smplog"
)

// Environment variables read once when logging is first configured.
const (
	EnvLogLevel     = "CHATLINK_LOG_LEVEL"
	EnvLogTimestamp = "CHATLINK_LOG_TIMESTAMP"
	EnvLogNoColor   = "CHATLINK_LOG_NOCOLOR"
	EnvLogBypass    = "CHATLINK_LOG_BYPASS"
)

// Profile picks the baseline log settings for a kind of process.
type Profile int

const (
	// ProfileRuntime is for daemons such as the dev server: info level, timestamped.
	ProfileRuntime Profile = iota
	// ProfileTest logs everything without timestamps so test output diffs cleanly.
	ProfileTest
	// ProfileInteractive keeps the console quiet while a user is typing into chatctl.
	ProfileInteractive
)

var levelAliases = map[string]logs.Level{
	"trace":       logs.TraceLevel,
	"diagnostics": logs.TraceLevel,
	"debug":       logs.DebugLevel,
	"info":        logs.InfoLevel,
	"warn":        logs.WarnLevel,
	"warning":     logs.WarnLevel,
	"error":       logs.ErrorLevel,
	"off":         logs.Disabled,
	"none":        logs.Disabled,
	"disabled":    logs.Disabled,
}

var configureOnce sync.Once

func ConfigureRuntime()     { Configure(ProfileRuntime) }
func ConfigureTests()       { Configure(ProfileTest) }
func ConfigureInteractive() { Configure(ProfileInteractive) }

// Configure applies the profile once per process. Later calls are ignored,
// so the first command or test to start wins.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		logs.Configure(cfg)
	})
}

// SetLevel overrides the level after Configure, e.g. from --log-level.
// It reports false and leaves the level alone for unknown names.
func SetLevel(raw string) bool {
	lvl, ok := ParseLevel(raw)
	if ok {
		logs.SetLevel(lvl)
	}
	return ok
}

func defaultConfig(profile Profile) logs.Config {
	cfg := logs.DefaultConfig()
	cfg.Level, cfg.Timestamp = logs.InfoLevel, true
	switch profile {
	case ProfileTest:
		cfg.Level, cfg.Timestamp = logs.DebugLevel, false
	case ProfileInteractive:
		// stdout belongs to the chat transcript.
		cfg.Level, cfg.Timestamp = logs.WarnLevel, false
		cfg.Writer = os.Stderr
	}
	return cfg
}

func applyEnvOverrides(cfg *logs.Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	for name, dst := range map[string]*bool{
		EnvLogTimestamp: &cfg.Timestamp,
		EnvLogNoColor:   &cfg.NoColor,
		EnvLogBypass:    &cfg.Bypass,
	} {
		if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name))); err == nil {
			*dst = v
		}
	}
}

// ParseLevel maps a case-insensitive level name to a smplog level.
// Empty and unknown names report false.
func ParseLevel(raw string) (logs.Level, bool) {
	lvl, ok := levelAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return logs.InfoLevel, false
	}
	return lvl, true
}
