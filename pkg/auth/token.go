// Package auth implements the OAuth2/JWT Authentication Manager (C3):
// token acquisition across the supported grant types, refresh coalescing,
// pluggable persistence, and the header-injection contract the request
// pipeline calls during its auth pass.
package auth

import "time"

// DefaultRefreshSkew is how far ahead of expiry a token is considered
// stale enough to refresh proactively.
const DefaultRefreshSkew = 300 * time.Second

// Identity is the (clientId, scopes, subject?) tuple a token is bound to.
// Refresh coalescing and the token store are both keyed by Identity.Key.
type Identity struct {
	ClientID string
	Scopes   []string
	Subject  string
}

// Key returns a stable string key for map/singleflight use.
func (id Identity) Key() string {
	k := id.ClientID + "|" + id.Subject
	for _, s := range id.Scopes {
		k += "|" + s
	}
	return k
}

// Token is the §3 Token data model.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string // "Bearer" unless the server says otherwise
	ExpiresAt    *time.Time
	Scope        string
}

// IsExpired reports whether the token's lifetime has already elapsed.
// A token with no ExpiresAt (non-expiring) is never expired.
func (t *Token) IsExpired(now time.Time) bool {
	if t == nil || t.ExpiresAt == nil {
		return false
	}
	return !now.Before(*t.ExpiresAt)
}

// NeedsRefresh reports whether t is within skew of expiring.
func (t *Token) NeedsRefresh(now time.Time, skew time.Duration) bool {
	if t == nil {
		return true
	}
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-skew))
}

// AuthHeader renders the Authorization header value for this token, per
// §4's header-injection contract.
func (t *Token) AuthHeader() string {
	typ := t.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + t.AccessToken
}
