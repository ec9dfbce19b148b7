package calendartokens

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/daybook/daybook/backend/go-services/internal/oauth"
)

// countingRefresher is a controllable RefreshFunc for manager tests
type countingRefresher struct {
	mu      sync.Mutex
	calls   int32
	err     error
	token   *oauth2.Token
	blockCh chan struct{} // when set, Refresh blocks until the channel closes
	started chan struct{} // signalled once per Refresh entry, if set
}

func (r *countingRefresher) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.blockCh != nil {
		<-r.blockCh
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	tok := *r.token
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return &tok, nil
}

func (r *countingRefresher) callCount() int32 { return atomic.LoadInt32(&r.calls) }

func expiredRecord(userID string) *TokenRecord {
	now := time.Now().UTC()
	return &TokenRecord{
		UserID:       userID,
		Provider:     oauth.ProviderGoogle,
		AccessToken:  "stale-token",
		RefreshToken: "rt-" + userID,
		ExpiresAt:    now.Add(10 * time.Second), // inside the 60s margin
		CreatedAt:    now.Add(-time.Hour),
		UpdatedAt:    now.Add(-time.Hour),
	}
}

func TestGetValidAccessTokenNotConnected(t *testing.T) {
	ref := &countingRefresher{}
	m := NewManager(NewMemoryStore(), ref.refresh)

	_, err := m.GetValidAccessToken(context.Background(), "u1")
	require.ErrorIs(t, err, ErrNotConnected)
	require.Equal(t, int32(0), ref.callCount(), "no provider call on the not-connected path")
}

func TestGetValidAccessTokenCacheHit(t *testing.T) {
	store := NewMemoryStore()
	rec := expiredRecord("u1")
	rec.AccessToken = "fresh-token"
	rec.ExpiresAt = time.Now().Add(time.Hour)
	require.NoError(t, store.Put(context.Background(), rec))

	ref := &countingRefresher{}
	m := NewManager(store, ref.refresh)

	tok, err := m.GetValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "fresh-token", tok)
	require.Equal(t, int32(0), ref.callCount(), "no provider call on the cache-hit path")
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), expiredRecord("u1")))

	block := make(chan struct{})
	ref := &countingRefresher{
		token:   &oauth2.Token{AccessToken: "new-token", Expiry: time.Now().Add(time.Hour)},
		blockCh: block,
	}
	m := NewManager(store, ref.refresh)

	const n = 10
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.GetValidAccessToken(context.Background(), "u1")
		}(i)
	}
	// let all callers pile onto the flight before releasing it
	time.Sleep(50 * time.Millisecond)
	close(block)
	wg.Wait()

	require.Equal(t, int32(1), ref.callCount(), "exactly one refresh must reach the provider")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "new-token", results[i])
	}

	// store holds exactly the refreshed record
	rec, err := store.Get(context.Background(), "u1", oauth.ProviderGoogle)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "new-token", rec.AccessToken)
	require.Equal(t, 1, store.Len())
}

func TestDifferentUsersRefreshIndependently(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), expiredRecord("u1")))
	require.NoError(t, store.Put(context.Background(), expiredRecord("u2")))

	block := make(chan struct{})
	started := make(chan struct{}, 2)
	ref := &countingRefresher{
		token:   &oauth2.Token{AccessToken: "new-token", Expiry: time.Now().Add(time.Hour)},
		blockCh: block,
		started: started,
	}
	m := NewManager(store, ref.refresh)

	var wg sync.WaitGroup
	for _, id := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			tok, err := m.GetValidAccessToken(context.Background(), id)
			require.NoError(t, err)
			require.Equal(t, "new-token", tok)
		}(id)
	}

	// both flights must be in the provider simultaneously: no shared lock
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("refreshes for different users blocked each other")
		}
	}
	close(block)
	wg.Wait()
	require.Equal(t, int32(2), ref.callCount())
}

func TestInvalidGrantPurgesRecord(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), expiredRecord("u1")))

	ref := &countingRefresher{err: oauth.ErrInvalidGrant}
	m := NewManager(store, ref.refresh)

	_, err := m.GetValidAccessToken(context.Background(), "u1")
	require.ErrorIs(t, err, ErrReauthRequired)

	rec, err := store.Get(context.Background(), "u1", oauth.ProviderGoogle)
	require.NoError(t, err)
	require.Nil(t, rec, "revoked record must be purged")

	// a later call sees a clean not-connected state, never a stale token
	_, err = m.GetValidAccessToken(context.Background(), "u1")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestTransientFailureKeepsRecord(t *testing.T) {
	store := NewMemoryStore()
	orig := expiredRecord("u1")
	require.NoError(t, store.Put(context.Background(), orig))

	ref := &countingRefresher{err: &oauth.TransientError{Err: errors.New("upstream 503")}}
	m := NewManager(store, ref.refresh)

	_, err := m.GetValidAccessToken(context.Background(), "u1")
	require.Error(t, err)
	require.True(t, oauth.IsTransient(err))
	require.NotErrorIs(t, err, ErrReauthRequired)

	rec, err := store.Get(context.Background(), "u1", oauth.ProviderGoogle)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, orig.RefreshToken, rec.RefreshToken, "record must survive transient failures")

	// provider recovers; the same record still works
	ref.mu.Lock()
	ref.err = nil
	ref.token = &oauth2.Token{AccessToken: "recovered", Expiry: time.Now().Add(time.Hour)}
	ref.mu.Unlock()

	tok, err := m.GetValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "recovered", tok)
}

// failingPutStore simulates a credential store outage after a successful
// provider refresh
type failingPutStore struct {
	*MemoryStore
	putErr error
}

func (s *failingPutStore) Put(ctx context.Context, rec *TokenRecord) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.MemoryStore.Put(ctx, rec)
}

func TestPersistFailureHandsOutNothing(t *testing.T) {
	inner := NewMemoryStore()
	orig := expiredRecord("u1")
	require.NoError(t, inner.Put(context.Background(), orig))
	store := &failingPutStore{MemoryStore: inner, putErr: errors.New("mongo down")}

	ref := &countingRefresher{token: &oauth2.Token{AccessToken: "unpersisted", Expiry: time.Now().Add(time.Hour)}}
	m := NewManager(store, ref.refresh)

	tok, err := m.GetValidAccessToken(context.Background(), "u1")
	require.Error(t, err)
	require.Empty(t, tok, "an unpersisted token must never be handed out")

	rec, err := inner.Get(context.Background(), "u1", oauth.ProviderGoogle)
	require.NoError(t, err)
	require.Equal(t, "stale-token", rec.AccessToken, "store must keep the previous record")
}

func TestMissingRefreshTokenRequiresReauth(t *testing.T) {
	store := NewMemoryStore()
	rec := expiredRecord("u1")
	rec.RefreshToken = ""
	require.NoError(t, store.Put(context.Background(), rec))

	ref := &countingRefresher{}
	m := NewManager(store, ref.refresh)

	_, err := m.GetValidAccessToken(context.Background(), "u1")
	require.ErrorIs(t, err, ErrReauthRequired)
	require.Equal(t, int32(0), ref.callCount())

	got, err := store.Get(context.Background(), "u1", oauth.ProviderGoogle)
	require.NoError(t, err)
	require.Nil(t, got, "unusable record must be purged")
}

func TestAbandonedCallerDoesNotCancelSharedRefresh(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), expiredRecord("u1")))

	block := make(chan struct{})
	ref := &countingRefresher{
		token:   &oauth2.Token{AccessToken: "late-token", Expiry: time.Now().Add(time.Hour)},
		blockCh: block,
	}
	m := NewManager(store, ref.refresh)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.GetValidAccessToken(ctx, "u1")
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled, "the caller's wait is abandoned")

	// the flight keeps going and its result still reaches the store
	close(block)
	require.Eventually(t, func() bool {
		rec, err := store.Get(context.Background(), "u1", oauth.ProviderGoogle)
		return err == nil && rec != nil && rec.AccessToken == "late-token"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectOverwrites(t *testing.T) {
	store := NewMemoryStore()
	ref := &countingRefresher{}
	m := NewManager(store, ref.refresh)
	ctx := context.Background()

	first := &oauth.Grant{
		UserID: "u1",
		Token:  &oauth2.Token{AccessToken: "at-1", RefreshToken: "rt-1", Expiry: time.Now().Add(time.Hour)},
	}
	second := &oauth.Grant{
		UserID:        "u1",
		Token:         &oauth2.Token{AccessToken: "at-2", RefreshToken: "rt-2", Expiry: time.Now().Add(time.Hour)},
		CalendarEmail: "me@example.com",
	}

	require.NoError(t, m.Connect(ctx, first))
	require.NoError(t, m.Connect(ctx, second))

	require.Equal(t, 1, store.Len(), "connect must overwrite, never append")
	rec, err := store.Get(ctx, "u1", oauth.ProviderGoogle)
	require.NoError(t, err)
	require.Equal(t, "at-2", rec.AccessToken)
	require.Equal(t, "rt-2", rec.RefreshToken)
	require.Equal(t, "me@example.com", rec.CalendarEmail)
}

func TestStatusAndDisconnect(t *testing.T) {
	store := NewMemoryStore()
	ref := &countingRefresher{}
	m := NewManager(store, ref.refresh)
	ctx := context.Background()

	connected, _, err := m.Status(ctx, "u1")
	require.NoError(t, err)
	require.False(t, connected)

	rec := expiredRecord("u1")
	rec.CalendarID = "primary"
	require.NoError(t, store.Put(ctx, rec))

	connected, calID, err := m.Status(ctx, "u1")
	require.NoError(t, err)
	require.True(t, connected, "status is a local read even for an expired token")
	require.Equal(t, "primary", calID)
	require.Equal(t, int32(0), ref.callCount(), "status must not trigger a refresh")

	require.NoError(t, m.Disconnect(ctx, "u1"))
	connected, _, err = m.Status(ctx, "u1")
	require.NoError(t, err)
	require.False(t, connected)
}
