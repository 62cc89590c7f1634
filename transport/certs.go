package transport

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// ExpiryWarningDays flags certificates that expire within this many days.
const ExpiryWarningDays = 30

// Certificate is expiry metadata for one configured PEM file.
type Certificate struct {
	Path            string    `json:"path"`
	Purpose         string    `json:"purpose"` // "client" or "ca"
	Subject         string    `json:"subject"`
	Issuer          string    `json:"issuer"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidUntil      time.Time `json:"valid_until"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	SANs            []string  `json:"sans"`
	IsExpired       bool      `json:"is_expired"`
	ExpiryWarning   bool      `json:"expiry_warning"`
	Error           string    `json:"error,omitempty"`
}

// Certificates reads the client and CA certificates. A file that cannot be
// parsed is returned with Error set rather than dropped. Returns nil when TLS
// is not configured.
func (f TLSFiles) Certificates(now time.Time) []Certificate {
	if !f.Enabled() {
		return nil
	}
	var out []Certificate
	for _, c := range []struct{ path, purpose string }{
		{f.CertPath, "client"},
		{f.CAPath, "ca"},
	} {
		if c.path == "" {
			continue
		}
		info, err := parseCertificateFile(c.path, now)
		if err != nil {
			info = Certificate{Path: c.path, Error: err.Error()}
		}
		info.Purpose = c.purpose
		out = append(out, info)
	}
	return out
}

// parseCertificateFile reads the first PEM certificate in path. For a CA
// bundle that is the first certificate of the chain.
func parseCertificateFile(path string, now time.Time) (Certificate, error) {
	certPEM, err := os.ReadFile(path)
	if err != nil {
		return Certificate{}, fmt.Errorf("failed to read certificate: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return Certificate{}, fmt.Errorf("failed to decode PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return Certificate{}, fmt.Errorf("failed to parse certificate: %w", err)
	}

	daysUntilExpiry := int(cert.NotAfter.Sub(now).Hours() / 24)
	isExpired := now.After(cert.NotAfter)

	var sans []string
	for _, dns := range cert.DNSNames {
		sans = append(sans, "DNS:"+dns)
	}
	for _, ip := range cert.IPAddresses {
		sans = append(sans, "IP:"+ip.String())
	}

	return Certificate{
		Path:            path,
		Subject:         cert.Subject.String(),
		Issuer:          cert.Issuer.String(),
		ValidFrom:       cert.NotBefore,
		ValidUntil:      cert.NotAfter,
		DaysUntilExpiry: daysUntilExpiry,
		SANs:            sans,
		IsExpired:       isExpired,
		ExpiryWarning:   daysUntilExpiry <= ExpiryWarningDays && !isExpired,
	}, nil
}
