package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// ClientTLSConfig builds the tls.Config for dialing host. It returns nil when
// TLS is disabled.
func (o Options) ClientTLSConfig(host string) (*tls.Config, error) {
	if !o.TLS.Enabled {
		return nil, nil
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: o.TLS.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(o.TLS.ServerName)
	if serverName == "" {
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(o.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("transport: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if o.TLS.Mutual {
		cert, err := tls.LoadX509KeyPair(o.TLS.CertFile, o.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
