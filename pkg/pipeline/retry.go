package pipeline

import (
	"context"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/harborlink/netcore/pkg/errors"
)

// RetryStrategy selects how the delay before the next attempt is
// computed (§4.4).
type RetryStrategy int

const (
	StrategyImmediate RetryStrategy = iota
	StrategyConstant
	StrategyLinear
	StrategyExponentialBackoff
	StrategyCustom
)

// RetryCondition selects which outcomes are eligible for retry (§4.4). The
// zero value is ConditionOnRetryableError, the §4.4 default: a bare
// RetryPolicy{} retries only idempotent methods on a retryable error, never
// unconditionally.
type RetryCondition int

const (
	ConditionOnRetryableError RetryCondition = iota
	ConditionAlways
	ConditionNever
	ConditionOnStatusCodes
	ConditionCustom
)

// RetryPolicy is the §4.4 retry policy data model.
type RetryPolicy struct {
	MaxAttempts int
	Strategy    RetryStrategy
	Base        time.Duration // constant/linear/exponentialBackoff
	Max         time.Duration // exponentialBackoff cap
	CustomDelay func(attempt int) time.Duration

	Condition   RetryCondition
	StatusCodes map[int]struct{}
	CustomCond  func(resp *RawResponse, err error) bool
}

// backOff adapts the policy's strategy to a cenkalti/backoff/v4 BackOff,
// capped at MaxAttempts-1 additional retries.
func (p RetryPolicy) backOff() backoff.BackOff {
	var base backoff.BackOff
	switch p.Strategy {
	case StrategyConstant:
		base = backoff.NewConstantBackOff(p.Base)
	case StrategyLinear:
		base = &linearBackOff{step: p.Base}
	case StrategyExponentialBackoff:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Base
		eb.Multiplier = 2
		eb.MaxInterval = p.Max
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		eb.Reset()
		base = eb
	case StrategyCustom:
		base = &customBackOff{fn: p.CustomDelay}
	default: // StrategyImmediate
		base = &backoff.ZeroBackOff{}
	}
	maxRetries := p.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithMaxRetries(base, uint64(maxRetries))
}

// linearBackOff returns step*attempt, matching §4.4's linear(d) strategy.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.step * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// customBackOff adapts a caller-supplied attempt->delay function.
type customBackOff struct {
	fn      func(attempt int) time.Duration
	attempt int
}

func (b *customBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.fn == nil {
		return 0
	}
	return b.fn(b.attempt)
}

func (b *customBackOff) Reset() { b.attempt = 0 }

// shouldRetry evaluates the policy's condition against one attempt's
// outcome, folding in the §4.4 idempotency default.
func (p RetryPolicy) shouldRetry(method string, resp *RawResponse, err error) bool {
	switch p.Condition {
	case ConditionNever:
		return false
	case ConditionAlways:
		return true
	case ConditionOnStatusCodes:
		if resp == nil {
			return false
		}
		_, ok := p.StatusCodes[resp.StatusCode]
		return ok
	case ConditionCustom:
		if p.CustomCond == nil {
			return false
		}
		return p.CustomCond(resp, err)
	case ConditionOnRetryableError:
		return isIdempotent(method) && errors.IsRetryable(err)
	default:
		return isIdempotent(method) && errors.IsRetryable(err)
	}
}

// attemptWithRetry implements §4.4 steps 5-7: submit to transport, run
// response processors, validate, and on a retryable outcome with budget
// remaining recompute delay and restart from step 5 (never from step 1).
func (p *Pipeline) attemptWithRetry(ctx context.Context, req *Request, policy RetryPolicy, timeout time.Duration, log *logrus.Entry) (*RawResponse, error) {
	bo := backoff.WithContext(policy.backOff(), ctx)

	var lastResp *RawResponse

	op := func() error {
		select {
		case <-ctx.Done():
			return backoff.Permanent(errors.NewCancelled("pipeline_attempt"))
		default:
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := p.attempt(attemptCtx, req)
		elapsed := time.Since(start)
		if err != nil {
			p.notify(req, elapsed, 0, false, err)
			if ctx.Err() != nil {
				return backoff.Permanent(errors.NewCancelled("pipeline_attempt"))
			}
			if policy.shouldRetry(req.Method, resp, err) {
				log.WithError(err).Debug("retrying after transport error")
				return err
			}
			return backoff.Permanent(err)
		}

		processed, perr := p.runProcessors(attemptCtx, resp.Body)
		if perr != nil {
			return backoff.Permanent(perr)
		}
		resp.Body = processed

		if verr := validate(resp); verr != nil {
			p.notify(req, elapsed, len(resp.Body), false, verr)
			if policy.shouldRetry(req.Method, resp, verr) {
				log.WithField("status", resp.StatusCode).Debug("retrying after non-2xx status")
				return verr
			}
			return backoff.Permanent(verr)
		}
		lastResp = resp
		p.notify(req, elapsed, len(resp.Body), true, nil)
		return nil
	}

	err := backoff.Retry(op, bo)
	if err != nil {
		return nil, err
	}
	return lastResp, nil
}

// notify reports one attempt's outcome to p.Observer, a no-op when unset.
// Host is read straight off req.Endpoint, already resolved to an absolute
// URL by resolve() before attemptWithRetry is ever reached.
func (p *Pipeline) notify(req *Request, elapsed time.Duration, bytesIn int, success bool, err error) {
	if p.Observer == nil {
		return
	}
	host := ""
	if u, perr := url.Parse(req.Endpoint); perr == nil {
		host = u.Host
	}
	kind := errors.GetKind(err)
	p.Observer(AttemptOutcome{
		Host:       host,
		Duration:   elapsed,
		BytesIn:    bytesIn,
		Success:    success,
		TimedOut:   kind == errors.KindConnectionTimeout || kind == errors.KindGatewayTimeout,
		ConnFailed: kind == errors.KindCannotConnectToHost || kind == errors.KindNoConnection || kind == errors.KindConnectionLost,
	})
}

// attempt performs exactly one transport round trip (§4.4 step 5).
func (p *Pipeline) attempt(ctx context.Context, req *Request) (*RawResponse, error) {
	httpReq, err := p.buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.Transport.RoundTrip(ctx, httpReq)
}

// runProcessors implements §4.4 step 6.
func (p *Pipeline) runProcessors(ctx context.Context, body []byte) ([]byte, error) {
	cur := body
	for _, proc := range p.Processors {
		next, err := proc.Process(ctx, cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}
