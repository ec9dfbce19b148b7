package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/daybook/daybook/backend/go-services/internal/config"
)

func testConnector(t *testing.T, tokenURL string) (*Connector, *mr.Miniredis) {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	states := NewRedisStateStore(client, "test:oauthstate:")

	gcfg := config.GoogleOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:5001/auth/calendar/callback",
		AuthURL:      "https://accounts.example.com/auth",
		TokenURL:     tokenURL,
	}
	acfg := config.AuthConfig{
		StateSecret: "state-secret-0123456789abcdef",
		StateTTL:    10 * time.Minute,
	}
	return NewConnector(gcfg, acfg, states, nil), m
}

// stateFromAuthURL extracts the state query parameter from a consent URL
func stateFromAuthURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestBuildAuthorizationURL(t *testing.T) {
	c, _ := testConnector(t, "https://oauth2.example.com/token")
	ctx := context.Background()

	raw, err := c.BuildAuthorizationURL(ctx, "user-1")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Equal(t, "offline", q.Get("access_type"))
	require.Equal(t, "consent", q.Get("prompt"))
	require.NotEmpty(t, q.Get("state"))
	// the user must not appear anywhere in the URL
	require.NotContains(t, raw, "user-1")
}

func TestExchangeCodeSuccess(t *testing.T) {
	var exchanges int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		require.Equal(t, "code-123", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-1","scope":"https://www.googleapis.com/auth/calendar.readonly"}`))
	}))
	defer srv.Close()

	c, _ := testConnector(t, srv.URL)
	ctx := context.Background()

	raw, err := c.BuildAuthorizationURL(ctx, "user-1")
	require.NoError(t, err)
	state := stateFromAuthURL(t, raw)

	g, err := c.ExchangeCode(ctx, "code-123", state)
	require.NoError(t, err)
	require.Equal(t, 1, exchanges)
	require.Equal(t, "user-1", g.UserID)
	require.Equal(t, "at-1", g.Token.AccessToken)
	require.Equal(t, "rt-1", g.Token.RefreshToken)
	require.Contains(t, g.Scope, "calendar.readonly")
}

func TestExchangeCodeStateReplay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c, _ := testConnector(t, srv.URL)
	ctx := context.Background()

	raw, err := c.BuildAuthorizationURL(ctx, "user-1")
	require.NoError(t, err)
	state := stateFromAuthURL(t, raw)

	_, err = c.ExchangeCode(ctx, "code-1", state)
	require.NoError(t, err)

	// second use of the same state must fail closed
	_, err = c.ExchangeCode(ctx, "code-2", state)
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestExchangeCodeBadState(t *testing.T) {
	c, _ := testConnector(t, "https://oauth2.example.com/token")
	ctx := context.Background()

	_, err := c.ExchangeCode(ctx, "code-1", "garbage-state")
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestExchangeCodeExpiredState(t *testing.T) {
	c, m := testConnector(t, "https://oauth2.example.com/token")
	ctx := context.Background()

	raw, err := c.BuildAuthorizationURL(ctx, "user-1")
	require.NoError(t, err)
	state := stateFromAuthURL(t, raw)

	// nonce binding expires server-side
	m.FastForward(11 * time.Minute)

	_, err = c.ExchangeCode(ctx, "code-1", state)
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestRefreshSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "rt-old", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c, _ := testConnector(t, srv.URL)
	tok, err := c.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	require.Equal(t, "at-new", tok.AccessToken)
	// provider did not rotate: old refresh token carried forward
	require.Equal(t, "rt-old", tok.RefreshToken)
}

func TestRefreshRotation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-new"}`))
	}))
	defer srv.Close()

	c, _ := testConnector(t, srv.URL)
	tok, err := c.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	require.Equal(t, "rt-new", tok.RefreshToken)
}

func TestRefreshInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
	}))
	defer srv.Close()

	c, _ := testConnector(t, srv.URL)
	_, err := c.Refresh(context.Background(), "rt-dead")
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRefreshServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := testConnector(t, srv.URL)
	_, err := c.Refresh(context.Background(), "rt-1")
	require.Error(t, err)
	require.True(t, IsTransient(err), "5xx must classify as transient, got %v", err)
	require.False(t, errors.Is(err, ErrInvalidGrant))
}

func TestRefreshNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c, _ := testConnector(t, srv.URL)
	_, err := c.Refresh(context.Background(), "rt-1")
	require.Error(t, err)
	require.True(t, IsTransient(err), "network failure must classify as transient, got %v", err)
}
