// Package tlsconfig provides helpers for SSL/TLS version and cipher-suite
// configuration shared by the HTTP/1.1, HTTP/2, and WebSocket transports.
package tlsconfig

import (
	"crypto/tls"
	"fmt"
)

// Version name constants mirroring the Configuration object's
// minTLSVersion enum (§6): "1.0", "1.1", "1.2", "1.3".
const (
	VersionTLS10 uint16 = tls.VersionTLS10
	VersionTLS11 uint16 = tls.VersionTLS11
	VersionTLS12 uint16 = tls.VersionTLS12
	VersionTLS13 uint16 = tls.VersionTLS13
)

// ParseMinVersion maps the Configuration object's minTLSVersion string enum
// to the corresponding crypto/tls constant.
func ParseMinVersion(s string) (uint16, error) {
	switch s {
	case "", "1.2":
		return VersionTLS12, nil
	case "1.0":
		return VersionTLS10, nil
	case "1.1":
		return VersionTLS11, nil
	case "1.3":
		return VersionTLS13, nil
	default:
		return 0, fmt.Errorf("tlsconfig: unrecognized minTLSVersion %q", s)
	}
}

// GetVersionName returns the human-readable name for a TLS version constant.
func GetVersionName(version uint16) string {
	switch version {
	case VersionTLS10:
		return "TLS 1.0"
	case VersionTLS11:
		return "TLS 1.1"
	case VersionTLS12:
		return "TLS 1.2"
	case VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}

// IsVersionDeprecated reports whether version predates TLS 1.2.
func IsVersionDeprecated(version uint16) bool {
	return version < VersionTLS12
}

// CipherSuitesSecure are the recommended ECDHE+AEAD suites for TLS 1.2.
// TLS 1.3 negotiates its own suites and ignores this list.
var CipherSuitesSecure = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

// BuildConfig constructs a *tls.Config honoring the Configuration object's
// security settings: minTLSVersion, allowInvalidCertificates, and SNI via
// ServerName. validateHostname=false is deliberately NOT wired through
// InsecureSkipVerify alone; callers that disabled hostname validation still
// go through the Pin Validator (pkg/pin) for chain trust.
func BuildConfig(minVersion uint16, serverName string, allowInvalidCertificates bool) *tls.Config {
	cfg := &tls.Config{
		MinVersion:         minVersion,
		ServerName:         serverName,
		InsecureSkipVerify: allowInvalidCertificates,
		NextProtos:         []string{"h2", "http/1.1"},
	}
	if minVersion < VersionTLS13 {
		cfg.CipherSuites = CipherSuitesSecure
	}
	return cfg
}
