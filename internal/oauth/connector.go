// Package oauth drives the three-legged OAuth flow against the calendar
// provider: consent URL construction, authorization-code exchange, and
// refresh-token exchange with classified failures.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/daybook/daybook/backend/go-services/internal/config"
	"github.com/daybook/daybook/backend/go-services/internal/oidc"
	"github.com/daybook/daybook/backend/go-services/internal/tokens"
)

const ProviderGoogle = "google"

var defaultScopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
	"openid",
	"email",
}

// Grant is the result of a successful code exchange, ready to persist.
type Grant struct {
	UserID        string
	Token         *oauth2.Token
	CalendarEmail string
	Scope         string
}

// Connector implements the provider side of the calendar connection flow.
type Connector struct {
	cfg         *oauth2.Config
	states      StateStore
	verifier    oidc.ClaimsVerifier // optional; nil skips id_token claims
	stateSecret string
	stateTTL    time.Duration
}

func NewConnector(gcfg config.GoogleOAuthConfig, acfg config.AuthConfig, states StateStore, verifier oidc.ClaimsVerifier) *Connector {
	ep := google.Endpoint
	if gcfg.AuthURL != "" {
		ep.AuthURL = gcfg.AuthURL
	}
	if gcfg.TokenURL != "" {
		ep.TokenURL = gcfg.TokenURL
	}
	return &Connector{
		cfg: &oauth2.Config{
			ClientID:     gcfg.ClientID,
			ClientSecret: gcfg.ClientSecret,
			RedirectURL:  gcfg.RedirectURL,
			Endpoint:     ep,
			Scopes:       defaultScopes,
		},
		states:      states,
		verifier:    verifier,
		stateSecret: acfg.StateSecret,
		stateTTL:    acfg.StateTTL,
	}
}

// Configured reports whether the provider client is usable.
func (c *Connector) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != "" && c.stateSecret != ""
}

// BuildAuthorizationURL returns the provider consent URL for the given user.
// The state parameter is a signed token carrying only a random nonce; the
// nonce-to-user binding is stored server-side for the state TTL.
func (c *Connector) BuildAuthorizationURL(ctx context.Context, userID string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(b)

	if err := c.states.Save(ctx, nonce, userID, c.stateTTL); err != nil {
		return "", fmt.Errorf("failed to save oauth state: %w", err)
	}
	state, err := tokens.SignState(c.stateSecret, nonce, c.stateTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign oauth state: %w", err)
	}

	// offline access + forced consent so Google issues a refresh token
	return c.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// ExchangeCode validates the callback state, consumes its nonce, and trades
// the authorization code for tokens. Never retried: a code is single-use.
func (c *Connector) ExchangeCode(ctx context.Context, code, state string) (*Grant, error) {
	nonce, err := tokens.ParseState(c.stateSecret, state)
	if err != nil {
		return nil, ErrStateMismatch
	}
	userID, err := c.states.Consume(ctx, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	if userID == "" {
		return nil, ErrStateMismatch
	}

	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	g := &Grant{UserID: userID, Token: tok}
	if s, ok := tok.Extra("scope").(string); ok {
		g.Scope = s
	}
	if c.verifier != nil {
		if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
			claims, err := c.verifier.Verify(ctx, raw)
			if err != nil {
				// the grant itself is fine; the email is informational only
				return g, nil
			}
			if email, ok := claims["email"].(string); ok {
				g.CalendarEmail = email
			}
		}
	}
	return g, nil
}

// Refresh exchanges a refresh token for a new access token. Failures are
// classified: invalid_grant means the token is permanently dead, everything
// else (5xx, network, ambiguous 4xx) is reported as transient so the stored
// record survives for a later attempt.
func (c *Connector) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ts := c.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}
	// the provider may not rotate the refresh token; keep the old one
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return ErrInvalidGrant
		}
		return &TransientError{Err: err}
	}
	// network-level failure
	return &TransientError{Err: err}
}
