// Package netcore provides a general-purpose client-side networking
// library: a single coherent stack that accepts typed application
// requests, negotiates transport (HTTP/1.1, HTTP/2, or WebSocket),
// enforces security (TLS, certificate/public-key pinning), authenticates
// (OAuth2, JWT, bearer, API key), manages in-flight state (retry,
// cancellation, concurrency limits), and returns typed responses.
package netcore

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/harborlink/netcore/pkg/auth"
	"github.com/harborlink/netcore/pkg/batch"
	"github.com/harborlink/netcore/pkg/config"
	"github.com/harborlink/netcore/pkg/download"
	"github.com/harborlink/netcore/pkg/metrics"
	"github.com/harborlink/netcore/pkg/pin"
	"github.com/harborlink/netcore/pkg/pipeline"
	"github.com/harborlink/netcore/pkg/tlsconfig"
	"github.com/harborlink/netcore/pkg/transport"
	"github.com/harborlink/netcore/pkg/upload"
)

// Re-export the core types callers need without reaching into pkg/*
// themselves, the way the teacher's rawhttp.go re-exports client.Options/
// client.Response as package-level aliases.
type (
	Request           = pipeline.Request
	RawResponse       = pipeline.RawResponse
	Interceptor       = pipeline.Interceptor
	InterceptorFunc   = pipeline.InterceptorFunc
	ResponseProcessor = pipeline.ResponseProcessor
	RetryPolicy       = pipeline.RetryPolicy

	Config   = config.Config
	Security = config.Security

	BatchItem   = batch.Item
	BatchResult = batch.Result
	BatchStats  = batch.Stats
	Progress    = batch.Progress

	Identity       = auth.Identity
	ProviderConfig = auth.ProviderConfig
)

// Client is the consumer-facing entry point wiring the Request Execution
// Pipeline (C4), Pin Validator (C1), Transport router, Auth Manager (C3),
// Batch Executor (C5), and Observability (C6) into one cohesive object,
// the way the teacher's Sender wires client.Client and http2.Client
// behind one Do method.
type Client struct {
	Config config.Config

	Pipeline *pipeline.Pipeline
	Auth     *auth.Manager
	PinStore *pin.Store
	Monitor  *metrics.Monitor

	Download *download.Manager
	Upload   *upload.Manager

	log *logrus.Entry
}

// New builds a Client from cfg. log may be nil, in which case the library
// is silent by default (§9: no hidden global logger, only a documented
// default constructed once here).
func New(cfg config.Config, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
		log.Logger.SetOutput(discardWriter{})
	}

	pinStore := pin.NewStore()
	evaluator := pin.NewDefaultEvaluator(nil)
	validator := pin.NewValidator(pinStore, evaluator)

	router := transport.NewRouter(validator, baseTLSConfig(cfg.Security))

	p := pipeline.New(router, log)
	p.BaseURL = cfg.BaseURL
	p.DefaultHeaders = cfg.DefaultHeaders
	p.DefaultRetry = cfg.RetryPolicy
	p.DefaultTimeout = cfg.Timeout

	c := &Client{
		Config:   cfg,
		Pipeline: p,
		PinStore: pinStore,
		log:      log.WithField("component", "netcore"),
	}
	c.Download = download.New(p)
	c.Upload = upload.New(p)

	if cfg.EnableMetrics {
		c.Monitor = metrics.New(nil, log)
		p.Observer = func(o pipeline.AttemptOutcome) {
			c.Monitor.Record(metrics.RequestPerformance{
				Host:       o.Host,
				EndTime:    time.Now(),
				Duration:   o.Duration,
				BytesIn:    int64(o.BytesIn),
				Success:    o.Success,
				TimedOut:   o.TimedOut,
				ConnFailed: o.ConnFailed,
			})
		}
	}

	return c
}

// UsePinning registers a pin configuration for host, translating the
// Client's Security block via config.Config.PinConfigurationFor. A no-op
// when the config has pinning disabled for that host.
func (c *Client) UsePinning(host string) error {
	cfg := c.Config.PinConfigurationFor(host)
	if cfg == nil {
		return nil
	}
	return c.PinStore.Put(cfg)
}

// UseAuth attaches an Auth Manager to the pipeline's auth-injection step
// (§4.4 step 4).
func (c *Client) UseAuth(m *auth.Manager) {
	c.Auth = m
	c.Pipeline.Auth = m
}

// AddInterceptor registers a request interceptor (§4.4 step 3).
func (c *Client) AddInterceptor(i pipeline.Interceptor) {
	c.Pipeline.Interceptors = append(c.Pipeline.Interceptors, i)
}

// AddResponseProcessor registers a response processor (§4.4 step 6).
func (c *Client) AddResponseProcessor(p pipeline.ResponseProcessor) {
	c.Pipeline.Processors = append(c.Pipeline.Processors, p)
}

// Execute runs req through the full pipeline and decodes the result into
// out.
func (c *Client) Execute(ctx context.Context, req *Request, out interface{}) error {
	return c.Pipeline.Execute(ctx, req, out)
}

// ExecuteRaw runs req through the pipeline without decoding the response.
func (c *Client) ExecuteRaw(ctx context.Context, req *Request) (*RawResponse, error) {
	return c.Pipeline.ExecuteRaw(ctx, req)
}

// CancelRequest cancels one in-flight request by correlation id (§9).
func (c *Client) CancelRequest(id uuid.UUID) bool {
	return c.Pipeline.CancelRequest(id)
}

// CancelAll cancels every in-flight request.
func (c *Client) CancelAll() {
	c.Pipeline.CancelAll()
}

// UpdateConfiguration replaces the Client's Config and re-applies the
// fields the pipeline reads, without tearing down the transport or auth
// manager (baseURL/headers/retry/timeout changes take effect on the next
// request; pinning and auth changes require UsePinning/UseAuth).
func (c *Client) UpdateConfiguration(cfg config.Config) {
	c.Config = cfg
	c.Pipeline.BaseURL = cfg.BaseURL
	c.Pipeline.DefaultHeaders = cfg.DefaultHeaders
	c.Pipeline.DefaultRetry = cfg.RetryPolicy
	c.Pipeline.DefaultTimeout = cfg.Timeout
}

// RunBatch executes items under the Batch Executor (C5), bound to this
// Client's Pipeline.
func (c *Client) RunBatch(ctx context.Context, items []BatchItem, opts func(*batch.Executor)) ([]BatchResult, BatchStats, error) {
	e := batch.New(c.Pipeline)
	if opts != nil {
		opts(e)
	}
	return e.Run(ctx, items)
}

// baseTLSConfig translates the Security block's minTLSVersion and
// allowInvalidCertificates into the base *tls.Config every transport
// sender clones per host (pkg/transport.Router.tlsConfigFor). An unknown
// or empty minTLSVersion falls back to TLS 1.2 the way
// tlsconfig.ParseMinVersion itself defaults. ServerName is left blank
// here; tlsConfigFor fills it in per host.
func baseTLSConfig(sec config.Security) *tls.Config {
	minVersion, err := tlsconfig.ParseMinVersion(string(sec.MinTLSVersion))
	if err != nil {
		minVersion = tlsconfig.VersionTLS12
	}
	return tlsconfig.BuildConfig(minVersion, "", sec.AllowInvalidCertificates)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
