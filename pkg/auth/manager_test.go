package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlink/netcore/pkg/errors"
)

func TestToken_IsExpiredAndNeedsRefresh(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	tok := &Token{AccessToken: "a", ExpiresAt: &future}

	assert.False(t, tok.IsExpired(now))
	assert.False(t, tok.NeedsRefresh(now, DefaultRefreshSkew))

	soon := now.Add(100 * time.Second)
	tok.ExpiresAt = &soon
	assert.True(t, tok.NeedsRefresh(now, DefaultRefreshSkew))
	assert.False(t, tok.IsExpired(now))
}

func TestToken_NonExpiringNeverNeedsRefresh(t *testing.T) {
	tok := &Token{AccessToken: "a"}
	assert.False(t, tok.IsExpired(time.Now()))
	assert.False(t, tok.NeedsRefresh(time.Now(), DefaultRefreshSkew))
}

func TestManager_RejectsImplicitAndPassword(t *testing.T) {
	m := NewManager(Identity{ClientID: "c"}, ProviderConfig{}, NewMemoryStore(), nil)

	_, err := m.Authenticate(context.Background(), GrantImplicit, AuthenticateOptions{})
	require.Error(t, err)

	_, err = m.Authenticate(context.Background(), GrantPassword, AuthenticateOptions{})
	require.Error(t, err)
}

// TestManager_RefreshCoalescing models S3: two concurrent callers both
// need a refresh; exactly one HTTP call reaches the token endpoint and
// both callers observe the same resulting token.
func TestManager_RefreshCoalescing(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	store := NewMemoryStore()
	expired := time.Now().Add(-time.Hour)
	require.NoError(t, store.Put(Identity{ClientID: "c"}.Key(), &Token{
		AccessToken: "stale", RefreshToken: "refresh-1", ExpiresAt: &expired,
	}))

	m := NewManager(Identity{ClientID: "c"}, ProviderConfig{TokenURL: server.URL}, store, nil)

	var wg sync.WaitGroup
	results := make([]*Token, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.CurrentToken(context.Background())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "new-token", results[0].AccessToken)
	assert.Equal(t, "new-token", results[1].AccessToken)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "expected exactly one token endpoint call")
}

func TestManager_ClientCredentialsAuthenticate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"cc-token","token_type":"Bearer","expires_in":60}`))
	}))
	defer server.Close()

	m := NewManager(Identity{ClientID: "c"}, ProviderConfig{
		ClientID: "c", ClientSecret: "s", TokenURL: server.URL,
	}, NewMemoryStore(), nil)

	tok, err := m.Authenticate(context.Background(), GrantClientCredentials, AuthenticateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cc-token", tok.AccessToken)
	assert.Equal(t, StateAuthenticated, m.State())
}

// TestManager_AuthorizationCodeRejectsStateMismatch models §4.3 step 3:
// a callback whose state doesn't match the one sent with AuthCodeURL is
// rejected before the code is ever exchanged.
func TestManager_AuthorizationCodeRejectsStateMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("token endpoint should not be reached on a state mismatch")
	}))
	defer server.Close()

	m := NewManager(Identity{ClientID: "c"}, ProviderConfig{TokenURL: server.URL}, NewMemoryStore(), nil)

	_, authState := mustAuthCodeURL(t, m.provider)

	_, err := m.Authenticate(context.Background(), GrantAuthorizationCode, AuthenticateOptions{
		Code:          "auth-code",
		State:         authState,
		ReceivedState: "tampered-state",
	})
	require.Error(t, err)
	assert.Equal(t, errors.KindStateMismatch, errors.GetKind(err))
	assert.Equal(t, StateFailed, m.State())
}

// TestManager_AuthorizationCodeSucceedsOnMatchingState exercises the
// callback-parsing helper and the happy path: state matches, code/state
// are recovered from the callback URL, and the exchange goes through.
func TestManager_AuthorizationCodeSucceedsOnMatchingState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
		assert.Equal(t, "auth-code", r.FormValue("code"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"ac-token","token_type":"Bearer","expires_in":60}`))
	}))
	defer server.Close()

	m := NewManager(Identity{ClientID: "c"}, ProviderConfig{TokenURL: server.URL}, NewMemoryStore(), nil)

	_, authState := mustAuthCodeURL(t, m.provider)

	callbackCode, callbackState, err := ParseAuthorizationCallback(
		"https://app.example.com/callback?code=auth-code&state=" + authState)
	require.NoError(t, err)

	tok, err := m.Authenticate(context.Background(), GrantAuthorizationCode, AuthenticateOptions{
		Code:          callbackCode,
		State:         authState,
		ReceivedState: callbackState,
	})
	require.NoError(t, err)
	assert.Equal(t, "ac-token", tok.AccessToken)
	assert.Equal(t, StateAuthenticated, m.State())
}

func mustAuthCodeURL(t *testing.T, cfg ProviderConfig) (authURL, state string) {
	t.Helper()
	state = "state-" + t.Name()
	authURL, _ = AuthCodeURL(cfg, state)
	return authURL, state
}

func TestBasicAuthHeader(t *testing.T) {
	assert.Equal(t, "Basic dXNlcjpwYXNz", BasicAuthHeader("user", "pass"))
}

func TestManager_Logout(t *testing.T) {
	store := NewMemoryStore()
	future := time.Now().Add(time.Hour)
	require.NoError(t, store.Put(Identity{ClientID: "c"}.Key(), &Token{AccessToken: "a", ExpiresAt: &future}))

	m := NewManager(Identity{ClientID: "c"}, ProviderConfig{}, store, nil)
	_, err := m.CurrentToken(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Logout())
	assert.Equal(t, StateUnauthenticated, m.State())

	_, ok, err := store.Get(Identity{ClientID: "c"}.Key())
	require.NoError(t, err)
	assert.False(t, ok)
}
