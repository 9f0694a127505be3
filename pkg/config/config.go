// Package config implements the Configuration object (§6): the
// consumer-facing options surface for baseURL, timeouts, headers, cache
// policy, retry policy, transport hints, concurrency limits, pinning
// security, and metrics. Grounded on the teacher's client.Options/
// http2.Options struct shape (plain exported fields with documented
// defaults applied by a constructor), generalized to the full §6 surface.
package config

import (
	"time"

	"github.com/harborlink/netcore/pkg/pin"
	"github.com/harborlink/netcore/pkg/pipeline"
)

// CachePolicy is one of the six standard web cache policies (§6).
type CachePolicy string

const (
	CacheUseProtocolPolicy          CachePolicy = "useProtocolCachePolicy"
	CacheReloadIgnoringLocal        CachePolicy = "reloadIgnoringLocalCacheData"
	CacheReloadIgnoringLocalAndRemote CachePolicy = "reloadIgnoringLocalAndRemoteCacheData"
	CacheReturnCacheOrLoad          CachePolicy = "returnCacheDataElseLoad"
	CacheReturnCacheOnly            CachePolicy = "returnCacheDataDontLoad"
	CacheUseLocalOnly               CachePolicy = "useLocalCacheDataOnly"
)

// PinningMode selects the pin validator's enforcement scope (§6 "security").
type PinningMode string

const (
	PinningNone        PinningMode = "none"
	PinningCertificate PinningMode = "certificate"
	PinningPublicKey   PinningMode = "publicKey"
	PinningBoth        PinningMode = "both"
)

// TLSVersion is one of the four recognized minimum-TLS-version values.
type TLSVersion string

const (
	TLS10 TLSVersion = "1.0"
	TLS11 TLSVersion = "1.1"
	TLS12 TLSVersion = "1.2"
	TLS13 TLSVersion = "1.3"
)

// Security is the §6 nested security configuration object.
type Security struct {
	Pinning                   PinningMode
	Pins                      []string
	AllowInvalidCertificates  bool
	ValidateHostname          bool
	MinTLSVersion             TLSVersion
	RequireCertificateTransparency bool
}

// Config is the §6 Configuration object.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	DefaultHeaders map[string]string
	CachePolicy    CachePolicy
	RetryPolicy    pipeline.RetryPolicy

	WaitsForConnectivity bool
	AllowsCellularAccess bool
	AllowsExpensive      bool
	AllowsConstrained    bool

	MaxConcurrentRequests int
	Security              Security
	EnableMetrics         bool
}

// Default returns the §6-documented defaults: 30s timeout, protocol cache
// policy, 6 max concurrent requests, hostname validation on, TLS 1.2
// minimum, pinning off.
func Default() Config {
	return Config{
		Timeout:               30 * time.Second,
		CachePolicy:           CacheUseProtocolPolicy,
		RetryPolicy:           pipeline.RetryPolicy{MaxAttempts: 1, Strategy: pipeline.StrategyImmediate, Condition: pipeline.ConditionNever},
		WaitsForConnectivity:  true,
		AllowsCellularAccess:  true,
		MaxConcurrentRequests: 6,
		Security: Security{
			Pinning:          PinningNone,
			ValidateHostname: true,
			MinTLSVersion:    TLS12,
		},
		EnableMetrics: false,
	}
}

// PinConfigurationFor translates the config's Security block into a
// pin.Configuration for host, or nil when pinning is disabled (Pinning ==
// PinningNone or no pins configured) — the caller should skip registering
// anything with pin.Store in that case, leaving the host unpinned.
func (c Config) PinConfigurationFor(host string) *pin.Configuration {
	if c.Security.Pinning == PinningNone || len(c.Security.Pins) == 0 {
		return nil
	}

	var mode pin.Mode
	switch c.Security.Pinning {
	case PinningCertificate:
		mode = pin.ModeCertificate
	case PinningPublicKey:
		mode = pin.ModePublicKey
	default:
		mode = pin.ModeBoth
	}

	pins := make(map[string]struct{}, len(c.Security.Pins))
	for _, p := range c.Security.Pins {
		pins[p] = struct{}{}
	}

	return &pin.Configuration{
		Host:            host,
		Pins:            pins,
		Mode:            mode,
		ChainValidation: !c.Security.AllowInvalidCertificates,
		RequireCT:       c.Security.RequireCertificateTransparency,
	}
}
