// Package pin implements certificate and public-key pinning validation
// (§4.1, C1). It inspects the TLS chain a peer presented after the
// handshake completes and decides whether the connection may proceed.
package pin

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/harborlink/netcore/pkg/errors"
)

// Mode selects which material is hashed and compared against configured pins.
type Mode string

const (
	ModeCertificate Mode = "certificate"
	ModePublicKey   Mode = "publicKey"
	ModeBoth        Mode = "both"
)

// Configuration is a PinConfiguration (§3): the pin set and policy bound to
// one host.
type Configuration struct {
	Host               string
	Pins               map[string]struct{} // base64(SHA-256(...))
	Mode               Mode
	IncludeSubdomains  bool
	EnforceBackupPins  bool
	MaxAge             time.Duration
	RequireCT          bool
	MinSCTCount        int // default 2 when RequireCT is set
	ChainValidation    bool
	RevocationCheck    bool
}

// Validate checks the configuration invariants from §3: pins non-empty, and
// at least 2 pins when EnforceBackupPins is set.
func (c *Configuration) Validate() error {
	if len(c.Pins) == 0 {
		return errors.New(errors.KindInvalidRequest, "pin_config", "pin set must not be empty", nil)
	}
	if c.EnforceBackupPins && len(c.Pins) < 2 {
		return errors.New(errors.KindInvalidRequest, "pin_config", "enforceBackupPins requires at least 2 pins", nil)
	}
	return nil
}

// Result is the outcome of Validate, matching §4.1's
// {success | failure(reason) | noPin} contract: at most one of Success and
// NoPin is true, and a failure has both false with Reason set.
type Result struct {
	Success bool
	NoPin   bool
	Reason  string
}

// Store holds PinConfigurations keyed by host. It is write-rare and safe
// under concurrent reads (§5 "Pin cache"), guarded by a RWMutex rather than
// a lock-free structure since configuration changes are operator-driven,
// not per-request.
type Store struct {
	mu      sync.RWMutex
	byHost  map[string]*Configuration
	subdoms []*Configuration // configs with IncludeSubdomains, checked in insertion order
}

// NewStore creates an empty pin Store.
func NewStore() *Store {
	return &Store{byHost: make(map[string]*Configuration)}
}

// Put installs or replaces a pin configuration.
func (s *Store) Put(cfg *Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHost[cfg.Host] = cfg
	if cfg.IncludeSubdomains {
		s.subdoms = append(s.subdoms, cfg)
	}
	return nil
}

// lookup implements §4.1 step 1: exact host match first, then any
// includeSubdomains config whose domain is a suffix of host.
func (s *Store) lookup(host string) *Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cfg, ok := s.byHost[host]; ok {
		return cfg
	}
	for _, cfg := range s.subdoms {
		if host == cfg.Host || strings.HasSuffix(host, "."+cfg.Host) {
			return cfg
		}
	}
	return nil
}

// ChainEvaluator abstracts the platform trust evaluation and revocation
// check (§4.1 steps 2-3). The production implementation uses crypto/x509
// and golang.org/x/crypto/ocsp (see evaluator.go); tests substitute fakes.
type ChainEvaluator interface {
	// VerifyChain runs platform chain validation; err != nil means failure.
	VerifyChain(chain []*x509.Certificate, host string) error
	// CheckRevocation performs OCSP/CRL lookups when enabled.
	CheckRevocation(chain []*x509.Certificate) error
	// CountValidSCTs returns the number of valid SCTs found on the leaf.
	CountValidSCTs(leaf *x509.Certificate) int
}

// Validator runs the §4.1 algorithm against a Store.
type Validator struct {
	Store     *Store
	Evaluator ChainEvaluator
}

// NewValidator builds a Validator bound to the given store and evaluator.
func NewValidator(store *Store, evaluator ChainEvaluator) *Validator {
	return &Validator{Store: store, Evaluator: evaluator}
}

// Validate runs the full §4.1 algorithm against the presented chain
// (leaf-first, as delivered by crypto/tls.ConnectionState.PeerCertificates).
func (v *Validator) Validate(chain []*x509.Certificate, host string) Result {
	cfg := v.Store.lookup(host)
	if cfg == nil {
		return Result{NoPin: true}
	}
	if len(chain) == 0 {
		return Result{Reason: "empty certificate chain"}
	}

	if cfg.ChainValidation && v.Evaluator != nil {
		if err := v.Evaluator.VerifyChain(chain, host); err != nil {
			return Result{Reason: "chain validation failed: " + err.Error()}
		}
	}
	if cfg.RevocationCheck && v.Evaluator != nil {
		if err := v.Evaluator.CheckRevocation(chain); err != nil {
			return Result{Reason: "revocation check failed: " + err.Error()}
		}
	}

	if cfg.RequireCT {
		min := cfg.MinSCTCount
		if min == 0 {
			min = 2
		}
		got := 0
		if v.Evaluator != nil {
			got = v.Evaluator.CountValidSCTs(chain[0])
		}
		if got < min {
			return Result{Reason: "insufficient Certificate Transparency SCTs"}
		}
	}

	// Leaf-first iteration: the first intersecting pin wins (tie-break rule).
	certOK, keyOK := false, false
	for _, cert := range chain {
		certPin := CertPin(cert)
		keyPin := SPKIPin(cert)
		if _, ok := cfg.Pins[certPin]; ok {
			certOK = true
		}
		if _, ok := cfg.Pins[keyPin]; ok {
			keyOK = true
		}
		switch cfg.Mode {
		case ModeCertificate:
			if certOK {
				return Result{Success: true}
			}
		case ModePublicKey:
			if keyOK {
				return Result{Success: true}
			}
		case ModeBoth:
			if certOK && keyOK {
				return Result{Success: true}
			}
		}
	}
	return Result{Reason: "no matching pin"}
}

// CertPin computes base64(SHA-256(DER(cert))), the certificate pin.
func CertPin(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// SPKIPin computes base64(SHA-256(SPKI_DER(cert))), the public-key pin.
// cert.RawSubjectPublicKeyInfo is the DER-encoded SubjectPublicKeyInfo
// structure, including the standard RSA/EC SPKI prefix (§4.1 step 4).
func SPKIPin(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Compute is the standalone helper used by operators rotating pins and by
// tests: it returns the pin for mode m over cert.
func Compute(cert *x509.Certificate, m Mode) string {
	if m == ModePublicKey {
		return SPKIPin(cert)
	}
	return CertPin(cert)
}
