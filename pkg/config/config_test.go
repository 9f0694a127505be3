package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlink/netcore/pkg/pin"
)

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, 30*time.Second, c.Timeout)
	assert.Equal(t, CacheUseProtocolPolicy, c.CachePolicy)
	assert.Equal(t, 6, c.MaxConcurrentRequests)
	assert.Equal(t, PinningNone, c.Security.Pinning)
	assert.True(t, c.Security.ValidateHostname)
	assert.Equal(t, TLS12, c.Security.MinTLSVersion)
}

func TestPinConfigurationFor_NilWhenPinningDisabled(t *testing.T) {
	c := Default()
	assert.Nil(t, c.PinConfigurationFor("example.com"))

	c.Security.Pinning = PinningCertificate
	assert.Nil(t, c.PinConfigurationFor("example.com")) // no pins configured
}

func TestPinConfigurationFor_BuildsConfigurationWhenPinsPresent(t *testing.T) {
	c := Default()
	c.Security.Pinning = PinningPublicKey
	c.Security.Pins = []string{"abc123="}
	c.Security.RequireCertificateTransparency = true

	cfg := c.PinConfigurationFor("example.com")
	require.NotNil(t, cfg)
	assert.Equal(t, "example.com", cfg.Host)
	assert.Equal(t, pin.ModePublicKey, cfg.Mode)
	assert.True(t, cfg.RequireCT)
	_, ok := cfg.Pins["abc123="]
	assert.True(t, ok)
}
