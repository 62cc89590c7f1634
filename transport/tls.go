package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// TLSFiles points at PEM files for mTLS. All three are required together.
type TLSFiles struct {
	CertPath string
	KeyPath  string
	CAPath   string
}

// Enabled reports whether any path is set.
func (f TLSFiles) Enabled() bool {
	return f.CertPath != "" || f.KeyPath != "" || f.CAPath != ""
}

// Validate checks that either none or all paths are set.
func (f TLSFiles) Validate() error {
	if !f.Enabled() {
		return nil
	}
	if f.CertPath == "" {
		return fmt.Errorf("certPath required")
	}
	if f.KeyPath == "" {
		return fmt.Errorf("keyPath required")
	}
	if f.CAPath == "" {
		return fmt.Errorf("caPath required")
	}
	return nil
}

// BuildTLSConfig loads a client certificate and CA pool into a TLS 1.3 config.
func BuildTLSConfig(files TLSFiles) (*tls.Config, error) {
	if !files.Enabled() {
		return nil, fmt.Errorf("no TLS files configured")
	}
	if err := files.Validate(); err != nil {
		return nil, err
	}

	clientCert, err := tls.LoadX509KeyPair(files.CertPath, files.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(files.CAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// BuildHTTP2Client creates an HTTP/2 client with mTLS 1.3.
func BuildHTTP2Client(files TLSFiles, timeout time.Duration) (*http.Client, error) {
	tlsConfig, err := BuildTLSConfig(files)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &http2.Transport{TLSClientConfig: tlsConfig},
		Timeout:   timeout,
	}, nil
}

// BuildHTTPClient returns an HTTP/2 mTLS client when TLS files are set and a
// plain client otherwise.
func BuildHTTPClient(files TLSFiles, timeout time.Duration) (*http.Client, error) {
	if files.Enabled() {
		return BuildHTTP2Client(files, timeout)
	}
	return &http.Client{Timeout: timeout}, nil
}
