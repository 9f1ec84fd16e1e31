// Package tls builds the server TLS configuration for the HTTP API, either from
// explicit certificate files or from a directory that may be filled with a
// self-signed pair on first start.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"
)

// Config mirrors the [server.tls] table.
type Config struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	MinVersion   string   `mapstructure:"min_version"`
	DNSNames     []string `mapstructure:"dns_names"`
}

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(ver) {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// Validate reports configuration that Setup would reject.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, ok := parseTLSVersion(c.MinVersion); !ok && c.MinVersion != "" && !strings.EqualFold(c.MinVersion, "default") {
		return fmt.Errorf("server.tls.min_version %q: want 1.2 or 1.3", c.MinVersion)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("server.tls needs both cert_file and key_file")
	}
	if c.CertFile == "" && c.Dir == "" {
		return errors.New("server.tls enabled but neither cert_file/key_file nor dir is set")
	}
	return nil
}

// Setup returns nil when TLS is disabled.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	minVer, _ := parseTLSVersion(c.MinVersion)

	if c.CertFile != "" {
		return build(c.CertFile, c.KeyFile, minVer)
	}
	certPath := filepath.Join(c.Dir, tlsCrt)
	keyPath := filepath.Join(c.Dir, tlsKey)
	if !certificatesExist(certPath, keyPath) {
		if !c.AutoGenerate {
			return nil, fmt.Errorf("no %s/%s in %s and auto_generate is off", tlsCrt, tlsKey, c.Dir)
		}
		if err := generate(c, certPath, keyPath); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	return build(certPath, keyPath, minVer)
}

// build loads the pair once up front so a bad file fails at startup, and then
// again on each handshake so renewed files are picked up.
func build(certPath, keyPath string, minVer uint16) (*tls.Config, error) {
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := tls.LoadX509KeyPair(certPath, keyPath)
			return &cert, err
		},
		MinVersion: minVer,
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(c Config, certPath, keyPath string) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}
	dns := c.DNSNames
	if len(dns) == 0 {
		dns = []string{"localhost"}
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   dns[0],
		Organization: "reforge",
		DNSNames:     dns,
		IPAddresses:  []string{"127.0.0.1", "::1"},
		NotAfter:     time.Now().AddDate(1, 0, 0),
		CertPath:     certPath,
		KeyPath:      keyPath,
	})
}
