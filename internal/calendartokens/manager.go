// Package calendartokens owns the lifecycle of stored calendar credentials:
// reading, refreshing, and persisting them, with at most one in-flight
// refresh per user.
package calendartokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/daybook/daybook/backend/go-services/internal/oauth"
	"github.com/daybook/daybook/backend/go-services/pkg/logger"
	"github.com/daybook/daybook/backend/go-services/pkg/metrics"
)

// RefreshMargin is how long before expiry a stored access token is already
// treated as stale.
const RefreshMargin = 60 * time.Second

const defaultRefreshTimeout = 30 * time.Second

var (
	// ErrNotConnected means no credential was ever stored for the user.
	ErrNotConnected = errors.New("calendar not connected")
	// ErrReauthRequired means the stored credential is permanently unusable
	// and has been purged; the user must run the consent flow again.
	ErrReauthRequired = errors.New("calendar reauthorization required")
)

// RefreshFunc is the slice of the OAuth connector the manager needs;
// satisfied by (*oauth.Connector).Refresh.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// Manager serializes refreshes per user and keeps the store authoritative:
// a token is only handed out after it has been durably recorded.
type Manager struct {
	store          Store
	refresher      RefreshFunc
	provider       string
	group          singleflight.Group
	refreshTimeout time.Duration
}

func NewManager(store Store, refresher RefreshFunc) *Manager {
	return &Manager{
		store:          store,
		refresher:      refresher,
		provider:       oauth.ProviderGoogle,
		refreshTimeout: defaultRefreshTimeout,
	}
}

// GetValidAccessToken returns an access token valid for at least
// RefreshMargin, refreshing through the provider when needed. Concurrent
// callers for the same user share a single refresh; callers for different
// users proceed independently.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	rec, err := m.store.Get(ctx, userID, m.provider)
	if err != nil {
		return "", fmt.Errorf("failed to read token record: %w", err)
	}
	if rec == nil {
		return "", ErrNotConnected
	}
	if tokenFresh(rec) {
		return rec.AccessToken, nil
	}

	ch := m.group.DoChan(userID, func() (interface{}, error) {
		return m.refreshUser(userID)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.RefreshCoalesced.Inc()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		// only this caller's wait is abandoned; the shared refresh keeps
		// running and its result still reaches the store and other waiters
		return "", ctx.Err()
	}
}

// refreshUser runs outside any single request's context so an abandoning
// caller cannot cancel a refresh other waiters depend on.
func (m *Manager) refreshUser(userID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()

	// re-read: a refresh that settled between the caller's read and this
	// flight may already have stored a fresh token
	rec, err := m.store.Get(ctx, userID, m.provider)
	if err != nil {
		return "", fmt.Errorf("failed to read token record: %w", err)
	}
	if rec == nil {
		return "", ErrNotConnected
	}
	if tokenFresh(rec) {
		return rec.AccessToken, nil
	}
	if rec.RefreshToken == "" {
		// expired access token and nothing to refresh with
		if err := m.store.Delete(ctx, userID, m.provider); err != nil {
			logger.Warnf("failed to purge unusable token record for user %s: %v", userID, err)
		}
		metrics.TokenRefresh.WithLabelValues("invalid_grant").Inc()
		return "", ErrReauthRequired
	}

	tok, err := m.refresher(ctx, rec.RefreshToken)
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidGrant) {
			// permanently dead: purge so status reflects reality
			if derr := m.store.Delete(ctx, userID, m.provider); derr != nil {
				logger.Warnf("failed to purge revoked token record for user %s: %v", userID, derr)
			}
			metrics.TokenRefresh.WithLabelValues("invalid_grant").Inc()
			logger.Infof("calendar grant revoked for user %s, record purged", userID)
			return "", ErrReauthRequired
		}
		// transient: stored record stays untouched for a later attempt
		metrics.TokenRefresh.WithLabelValues("transient").Inc()
		return "", err
	}

	now := time.Now().UTC()
	rec.AccessToken = tok.AccessToken
	rec.RefreshToken = tok.RefreshToken
	rec.ExpiresAt = tok.Expiry
	rec.UpdatedAt = now

	// persistence before release: never hand out a token the store has not
	// durably recorded
	if err := m.store.Put(ctx, rec); err != nil {
		metrics.TokenRefresh.WithLabelValues("store_error").Inc()
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	metrics.TokenRefresh.WithLabelValues("success").Inc()
	return tok.AccessToken, nil
}

// Connect stores the exchanged grant as the single record for the user,
// overwriting any previous connection.
func (m *Manager) Connect(ctx context.Context, g *oauth.Grant) error {
	now := time.Now().UTC()
	rec := &TokenRecord{
		UserID:        g.UserID,
		Provider:      m.provider,
		AccessToken:   g.Token.AccessToken,
		RefreshToken:  g.Token.RefreshToken,
		ExpiresAt:     g.Token.Expiry,
		CalendarEmail: g.CalendarEmail,
		Scope:         g.Scope,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if prev, err := m.store.Get(ctx, g.UserID, m.provider); err == nil && prev != nil {
		rec.CreatedAt = prev.CreatedAt
		rec.CalendarID = prev.CalendarID
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist token record: %w", err)
	}
	return nil
}

// Disconnect removes the stored credential.
func (m *Manager) Disconnect(ctx context.Context, userID string) error {
	return m.store.Delete(ctx, userID, m.provider)
}

// Status reports whether a usable record exists. Pure store read, no
// network call and no refresh.
func (m *Manager) Status(ctx context.Context, userID string) (connected bool, calendarID string, err error) {
	rec, err := m.store.Get(ctx, userID, m.provider)
	if err != nil {
		return false, "", err
	}
	if rec == nil {
		return false, "", nil
	}
	connected = rec.AccessToken != "" || rec.RefreshToken != ""
	return connected, rec.CalendarID, nil
}

func tokenFresh(rec *TokenRecord) bool {
	return rec.AccessToken != "" && time.Now().Add(RefreshMargin).Before(rec.ExpiresAt)
}
