package auth

import (
	"context"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/harborlink/netcore/pkg/errors"
)

// GrantType enumerates the §4 supported OAuth2 grants. Implicit and
// password are deliberately absent — requesting them surfaces
// UnsupportedGrantType.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantDeviceCode        GrantType = "device_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// ProviderConfig describes one OAuth2 provider/client registration.
type ProviderConfig struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	DeviceAuthURL string
	RedirectURL   string
	Scopes        []string
	UsePKCE       bool
}

func (c ProviderConfig) toOAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:       c.AuthURL,
			TokenURL:      c.TokenURL,
			DeviceAuthURL: c.DeviceAuthURL,
		},
	}
}

// AuthCodeURL builds the authorization_code redirect URL and, when
// cfg.UsePKCE is set, a verifier the caller must retain for ExchangeCode.
func AuthCodeURL(cfg ProviderConfig, state string) (authURL, verifier string) {
	c := cfg.toOAuth2Config()
	if !cfg.UsePKCE {
		return c.AuthCodeURL(state), ""
	}
	verifier = oauth2.GenerateVerifier()
	return c.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), verifier
}

// ParseAuthorizationCallback extracts code and state from an
// authorization_code redirect's callback URL (§4.3 step 3: "Extract code
// from callback query"). The caller still owns comparing the returned
// state against the one it sent with AuthCodeURL, via
// AuthenticateOptions.ReceivedState.
func ParseAuthorizationCallback(callbackURL string) (code, state string, err error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", "", errors.NewInvalidURL(callbackURL, err)
	}
	q := u.Query()
	return q.Get("code"), q.Get("state"), nil
}

// ExchangeCode implements the §4 authorization_code steps 4-5: POST the
// code to the token endpoint (with the PKCE verifier if one was used) and
// parse the resulting token.
func ExchangeCode(ctx context.Context, cfg ProviderConfig, code, verifier string) (*Token, error) {
	c := cfg.toOAuth2Config()
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := c.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, errors.New(errors.KindInvalidCredentials, "oauth2_exchange", "authorization_code exchange failed", err)
	}
	return fromOAuth2Token(tok), nil
}

// ClientCredentialsToken implements the client_credentials grant.
func ClientCredentialsToken(ctx context.Context, cfg ProviderConfig) (*Token, error) {
	c := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	tok, err := c.Token(ctx)
	if err != nil {
		return nil, errors.New(errors.KindInvalidCredentials, "oauth2_client_credentials", "client_credentials grant failed", err)
	}
	return fromOAuth2Token(tok), nil
}

// RefreshAccessToken implements the refresh_token grant.
func RefreshAccessToken(ctx context.Context, cfg ProviderConfig, refreshToken string) (*Token, error) {
	c := cfg.toOAuth2Config()
	src := c.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, errors.New(errors.KindMissingRefresh, "oauth2_refresh", "refresh_token grant failed", err)
	}
	return fromOAuth2Token(tok), nil
}

// StartDeviceAuth begins the device_code flow, returning the
// {device_code, user_code, verification_uri, expires_in, interval} the
// caller shows the user.
func StartDeviceAuth(ctx context.Context, cfg ProviderConfig) (*oauth2.DeviceAuthResponse, error) {
	c := cfg.toOAuth2Config()
	resp, err := c.DeviceAuth(ctx)
	if err != nil {
		return nil, errors.New(errors.KindInvalidCredentials, "oauth2_device_auth", "device authorization request failed", err)
	}
	return resp, nil
}

// PollDeviceToken polls the token endpoint per RFC 8628 until success,
// `expired_token`, or user denial, honoring expires_in as a hard deadline
// (§4 "the polling loop MUST honor expires_in as a hard deadline") and
// slow_down/interval backoff, both handled by oauth2.Config.DeviceAccessToken.
func PollDeviceToken(ctx context.Context, cfg ProviderConfig, resp *oauth2.DeviceAuthResponse) (*Token, error) {
	deadline := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	c := cfg.toOAuth2Config()
	tok, err := c.DeviceAccessToken(pollCtx, resp)
	if err != nil {
		if pollCtx.Err() != nil {
			return nil, errors.New(errors.KindDeviceCodeExpired, "oauth2_device_poll", "device code expired before authorization", err)
		}
		return nil, errors.New(errors.KindInvalidCredentials, "oauth2_device_poll", "device authorization failed", err)
	}
	return fromOAuth2Token(tok), nil
}

func fromOAuth2Token(tok *oauth2.Token) *Token {
	t := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		t.ExpiresAt = &exp
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	return t
}
