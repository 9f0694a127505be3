package pin

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSigned(t *testing.T, cn string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestValidate_NoPinConfigured(t *testing.T) {
	store := NewStore()
	v := NewValidator(store, nil)
	cert := selfSigned(t, "example.com")
	res := v.Validate([]*x509.Certificate{cert}, "example.com")
	assert.True(t, res.NoPin)
}

func TestValidate_PublicKeyModeSuccess(t *testing.T) {
	cert := selfSigned(t, "api.example.com")
	store := NewStore()
	require.NoError(t, store.Put(&Configuration{
		Host: "api.example.com",
		Pins: map[string]struct{}{SPKIPin(cert): {}},
		Mode: ModePublicKey,
	}))
	v := NewValidator(store, nil)
	res := v.Validate([]*x509.Certificate{cert}, "api.example.com")
	assert.True(t, res.Success)
}

// TestValidate_PinMismatchFails models S2: a configured pin that does not
// match the presented SPKI pin is a terminal, non-retryable failure.
func TestValidate_PinMismatchFails(t *testing.T) {
	cert := selfSigned(t, "api.example.com")
	store := NewStore()
	require.NoError(t, store.Put(&Configuration{
		Host: "api.example.com",
		Pins: map[string]struct{}{"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=": {}},
		Mode: ModePublicKey,
	}))
	v := NewValidator(store, nil)
	res := v.Validate([]*x509.Certificate{cert}, "api.example.com")
	assert.False(t, res.Success)
	assert.False(t, res.NoPin)
	assert.Equal(t, "no matching pin", res.Reason)
}

func TestValidate_IncludeSubdomains(t *testing.T) {
	cert := selfSigned(t, "sub.example.com")
	store := NewStore()
	require.NoError(t, store.Put(&Configuration{
		Host:              "example.com",
		Pins:              map[string]struct{}{SPKIPin(cert): {}},
		Mode:              ModePublicKey,
		IncludeSubdomains: true,
	}))
	v := NewValidator(store, nil)
	res := v.Validate([]*x509.Certificate{cert}, "sub.example.com")
	assert.True(t, res.Success)

	res2 := v.Validate([]*x509.Certificate{cert}, "other.com")
	assert.True(t, res2.NoPin)
}

func TestConfiguration_Validate_RequiresBackupPins(t *testing.T) {
	cfg := &Configuration{
		Host:              "example.com",
		Pins:              map[string]struct{}{"a": {}},
		Mode:              ModePublicKey,
		EnforceBackupPins: true,
	}
	err := cfg.Validate()
	assert.Error(t, err)
}

// TestValidate_Deterministic covers invariant 4: validate(C, host) depends
// only on (P, mode, C) and nothing else.
func TestValidate_Deterministic(t *testing.T) {
	cert := selfSigned(t, "api.example.com")
	store := NewStore()
	require.NoError(t, store.Put(&Configuration{
		Host: "api.example.com",
		Pins: map[string]struct{}{SPKIPin(cert): {}},
		Mode: ModePublicKey,
	}))
	v := NewValidator(store, nil)
	first := v.Validate([]*x509.Certificate{cert}, "api.example.com")
	for i := 0; i < 10; i++ {
		got := v.Validate([]*x509.Certificate{cert}, "api.example.com")
		assert.Equal(t, first, got)
	}
}
