package auth

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/harborlink/netcore/pkg/errors"
)

// GrantImplicit and GrantPassword name the two OAuth2 grants this manager
// refuses to perform (§4: "Implicit and password are rejected with
// UnsupportedGrantType").
const (
	GrantImplicit GrantType = "implicit"
	GrantPassword GrantType = "password"
)

// State is the §4 Auth Manager state machine.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AuthenticateOptions carries the grant-specific parameters Authenticate
// needs; only the fields relevant to the requested GrantType are read.
type AuthenticateOptions struct {
	Code          string // authorization_code
	Verifier      string // authorization_code with PKCE
	State         string // authorization_code: state sent with AuthCodeURL
	ReceivedState string // authorization_code: state echoed back on the callback; MUST equal State (§4.3 step 3)
	RefreshToken  string // refresh_token
}

// Manager drives one identity's token lifecycle: acquisition, refresh
// coalescing, persistence, and header injection. One Manager per identity;
// a client holding several identities (e.g. multiple APIs) owns several
// Managers.
type Manager struct {
	mu           sync.RWMutex
	state        State
	current      *Token
	lastErr      error
	loadedOnce   bool

	identity Identity
	provider ProviderConfig
	store    Store
	skew     time.Duration

	refreshGroup   singleflight.Group
	onTokenRefresh func(*Token)

	log *logrus.Entry
}

// NewManager builds a Manager. log may be nil; a no-op entry is used then.
func NewManager(identity Identity, provider ProviderConfig, store Store, log *logrus.Entry) *Manager {
	if store == nil {
		store = NoopStore{}
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &Manager{
		identity: identity,
		provider: provider,
		store:    store,
		skew:     DefaultRefreshSkew,
		state:    StateUnauthenticated,
		log:      log.WithField("component", "auth_manager"),
	}
}

// OnTokenRefresh registers a callback invoked after every successful
// refresh (§4 "notify onTokenRefresh").
func (m *Manager) OnTokenRefresh(fn func(*Token)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTokenRefresh = fn
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) loadFromStoreLocked() {
	if m.loadedOnce {
		return
	}
	m.loadedOnce = true
	tok, ok, err := m.store.Get(m.identity.Key())
	if err != nil {
		m.log.WithError(err).Warn("failed to load persisted token")
		return
	}
	if ok {
		m.current = tok
		m.state = StateAuthenticated
	}
}

// setTokenLocked atomically replaces the current token, persists it, and
// transitions to Authenticated.
func (m *Manager) setTokenLocked(t *Token) error {
	if err := m.store.Put(m.identity.Key(), t); err != nil {
		return err
	}
	m.current = t
	m.state = StateAuthenticated
	m.lastErr = nil
	return nil
}

// Authenticate performs the named grant and stores the resulting token.
func (m *Manager) Authenticate(ctx context.Context, grant GrantType, opts AuthenticateOptions) (*Token, error) {
	switch grant {
	case GrantImplicit, GrantPassword:
		return nil, errors.New(errors.KindUnsupportedGrant, "authenticate",
			"grant type "+string(grant)+" is not supported", nil)
	case GrantAuthorizationCode:
		if opts.ReceivedState != opts.State {
			return m.commit(nil, errors.NewStateMismatch())
		}
		tok, err := ExchangeCode(ctx, m.provider, opts.Code, opts.Verifier)
		return m.commit(tok, err)
	case GrantClientCredentials:
		tok, err := ClientCredentialsToken(ctx, m.provider)
		return m.commit(tok, err)
	case GrantRefreshToken:
		tok, err := RefreshAccessToken(ctx, m.provider, opts.RefreshToken)
		return m.commit(tok, err)
	case GrantDeviceCode:
		dResp, err := StartDeviceAuth(ctx, m.provider)
		if err != nil {
			return m.commit(nil, err)
		}
		tok, err := PollDeviceToken(ctx, m.provider, dResp)
		return m.commit(tok, err)
	default:
		return nil, errors.New(errors.KindUnsupportedGrant, "authenticate",
			"unrecognized grant type "+string(grant), nil)
	}
}

func (m *Manager) commit(tok *Token, err error) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateFailed
		m.lastErr = err
		return nil, err
	}
	if setErr := m.setTokenLocked(tok); setErr != nil {
		m.state = StateFailed
		m.lastErr = setErr
		return nil, setErr
	}
	return tok, nil
}

// CurrentToken returns a token suitable for immediate use, refreshing it
// first (coalesced across concurrent callers) if it needs refresh, and
// loading it from the store on first use.
func (m *Manager) CurrentToken(ctx context.Context) (*Token, error) {
	m.mu.Lock()
	m.loadFromStoreLocked()
	cur := m.current
	needsRefresh := cur.NeedsRefresh(time.Now(), m.skew)
	m.mu.Unlock()

	if cur == nil {
		return nil, errors.New(errors.KindUnauthorized, "current_token", "no token available; authenticate first", nil)
	}
	if !needsRefresh {
		return cur, nil
	}
	if cur.RefreshToken == "" {
		// Nothing to refresh with; hand back what we have and let the
		// caller's request fail naturally if the server rejects it.
		return cur, nil
	}
	return m.refresh(ctx, cur.RefreshToken)
}

// refresh coalesces concurrent refresh calls for this identity into a
// single HTTP round trip (invariant 8, scenario S3): every concurrent
// caller observes the same resulting token or the same error.
func (m *Manager) refresh(ctx context.Context, refreshToken string) (*Token, error) {
	m.mu.Lock()
	m.state = StateRefreshing
	m.mu.Unlock()

	v, err, _ := m.refreshGroup.Do(m.identity.Key(), func() (interface{}, error) {
		return RefreshAccessToken(ctx, m.provider, refreshToken)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateFailed
		m.lastErr = err
		return nil, err
	}
	tok := v.(*Token)
	if setErr := m.setTokenLocked(tok); setErr != nil {
		m.state = StateFailed
		m.lastErr = setErr
		return nil, setErr
	}
	if m.onTokenRefresh != nil {
		m.onTokenRefresh(tok)
	}
	return tok, nil
}

// AuthHeaders implements §4's header injection contract for bearer/JWT
// tokens, suspending to refresh if needed.
func (m *Manager) AuthHeaders(ctx context.Context) (map[string]string, error) {
	tok, err := m.CurrentToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": tok.AuthHeader()}, nil
}

// Logout clears the stored token and returns the manager to
// Unauthenticated (§4 state machine).
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Delete(m.identity.Key()); err != nil {
		return err
	}
	m.current = nil
	m.state = StateUnauthenticated
	m.lastErr = nil
	return nil
}

// LastError returns the error that drove the manager to Failed, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}
