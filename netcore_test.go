package netcore

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlink/netcore/pkg/config"
	"github.com/harborlink/netcore/pkg/pipeline"
)

func TestNew_AppliesConfigDefaultsToPipeline(t *testing.T) {
	cfg := config.Default()
	cfg.BaseURL = "https://api.example.com"

	c := New(cfg, nil)
	assert.Equal(t, "https://api.example.com", c.Pipeline.BaseURL)
	assert.Equal(t, cfg.Timeout, c.Pipeline.DefaultTimeout)
	assert.NotNil(t, c.Download)
	assert.NotNil(t, c.Upload)
	assert.Nil(t, c.Monitor) // EnableMetrics defaults to false
}

func TestNew_EnablesMonitorWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.EnableMetrics = true
	c := New(cfg, nil)
	assert.NotNil(t, c.Monitor)
}

func TestUsePinning_NoopWhenPinningDisabled(t *testing.T) {
	cfg := config.Default()
	c := New(cfg, nil)
	require.NoError(t, c.UsePinning("example.com"))
}

func TestClient_AddInterceptorAffectsPipeline(t *testing.T) {
	c := New(config.Default(), nil)
	called := false
	c.AddInterceptor(pipeline.InterceptorFunc(func(ctx context.Context, req *pipeline.Request) (*pipeline.Request, error) {
		called = true
		return req, nil
	}))
	assert.Len(t, c.Pipeline.Interceptors, 1)

	c.Pipeline.Transport = fakeOKTransport{}
	c.Pipeline.BaseURL = "https://example.com"
	_, err := c.ExecuteRaw(context.Background(), &pipeline.Request{Method: http.MethodGet, Endpoint: "/x"})
	require.NoError(t, err)
	assert.True(t, called)
}

type fakeOKTransport struct{}

func (fakeOKTransport) RoundTrip(ctx context.Context, req *http.Request) (*pipeline.RawResponse, error) {
	return &pipeline.RawResponse{StatusCode: 200, Headers: http.Header{}, Body: []byte("{}")}, nil
}

func TestUpdateConfiguration_UpdatesPipelineFields(t *testing.T) {
	c := New(config.Default(), nil)
	newCfg := config.Default()
	newCfg.BaseURL = "https://new.example.com"
	c.UpdateConfiguration(newCfg)
	assert.Equal(t, "https://new.example.com", c.Pipeline.BaseURL)
}
