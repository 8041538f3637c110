package session

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// BackoffConfig defines exponential retry behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	delay := float64(cfg.InitialDelay)
	if attempt > 1 {
		if cfg.Multiplier < 1.0 {
			cfg.Multiplier = 1.0
		}
		delay *= math.Pow(cfg.Multiplier, float64(attempt-1))
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Backoff yields the wait before reconnect attempt N (1-based).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same interval before every attempt.
type FixedBackoff struct {
	Interval time.Duration
}

func (b FixedBackoff) Delay(int) time.Duration {
	return b.Interval
}

// ExponentialBackoff grows the delay per attempt, optionally with jitter.
type ExponentialBackoff struct {
	cfg BackoffConfig
	mu  sync.Mutex
	rng *rand.Rand
}

func NewExponentialBackoff(cfg BackoffConfig) *ExponentialBackoff {
	return &ExponentialBackoff{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *ExponentialBackoff) Delay(attempt int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return NextBackoffDelay(b.cfg, attempt, b.rng)
}

type ReconnectMode string

const (
	ReconnectFixed       ReconnectMode = "fixed"
	ReconnectExponential ReconnectMode = "exponential"
	ReconnectJittered    ReconnectMode = "jittered"
)

// ReconnectConfig selects the reconnect delay policy.
type ReconnectConfig struct {
	Mode       ReconnectMode
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

func ParseReconnectMode(raw string) (ReconnectMode, error) {
	switch mode := ReconnectMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return ReconnectFixed, nil
	case ReconnectFixed, ReconnectExponential, ReconnectJittered:
		return mode, nil
	default:
		return "", fmt.Errorf("session: unknown reconnect mode %q", raw)
	}
}

// NewBackoff builds the policy described by cfg. Unknown modes fall back to fixed.
func NewBackoff(cfg ReconnectConfig) Backoff {
	exp := BackoffConfig{
		InitialDelay: cfg.Delay,
		Multiplier:   cfg.Multiplier,
		MaxDelay:     cfg.MaxDelay,
	}
	switch cfg.Mode {
	case ReconnectExponential:
		return NewExponentialBackoff(exp)
	case ReconnectJittered:
		exp.Jitter = true
		return NewExponentialBackoff(exp)
	default:
		return FixedBackoff{Interval: cfg.Delay}
	}
}
