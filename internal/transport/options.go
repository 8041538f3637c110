package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

var (
	ErrInvalidSecurityMode     = errors.New("transport: invalid security mode")
	ErrTLSRequired             = errors.New("transport: tls required")
	ErrMTLSRequired            = errors.New("transport: mtls required")
	ErrTLSCertFileRequired     = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("transport: tls key file required")
	ErrTLSCAFileRequired       = errors.New("transport: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("transport: insecure skip verify not allowed")
)

// TLS configures client-side transport security.
type TLS struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Options are the dial settings shared by every transport.
type Options struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SecurityMode     SecurityMode
	TLS              TLS
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     10 * time.Second,
		SecurityMode:     SecurityModeDevelopment,
	}
}

// WithDefaults fills zero durations from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	o.SecurityMode = NormalizeSecurityMode(o.SecurityMode)
	return o
}

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

// ValidateClient checks the TLS settings against the security mode.
// Production requires mutual TLS without skipping verification.
func (o Options) ValidateClient() error {
	mode := NormalizeSecurityMode(o.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, o.SecurityMode)
	}

	if mode == SecurityModeProduction {
		if !o.TLS.Enabled {
			return ErrTLSRequired
		}
		if !o.TLS.Mutual {
			return ErrMTLSRequired
		}
		if o.TLS.InsecureSkipVerify {
			return ErrTLSInsecureSkipNotAllow
		}
	}
	if o.TLS.Mutual && !o.TLS.Enabled {
		return ErrTLSRequired
	}
	if o.TLS.Enabled && strings.TrimSpace(o.TLS.CAFile) == "" && !o.TLS.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if o.TLS.Mutual {
		if strings.TrimSpace(o.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(o.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	return nil
}
