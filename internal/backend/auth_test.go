package backend

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// eventLog records auth events delivered to a subscriber.
type eventLog struct {
	mu     sync.Mutex
	events []AuthEvent
}

func (l *eventLog) record(ev AuthEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []AuthEventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuthEventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

func newTestAuth(t *testing.T, opts AuthOptions) (*LocalAuth, *SQLiteBackend) {
	t.Helper()
	b := newTestBackend(t)
	opts.BcryptCost = bcrypt.MinCost
	return NewLocalAuth(b, opts), b
}

func TestSignUp_SignsInWithoutConfirmation(t *testing.T) {
	ctx := context.Background()
	auth, _ := newTestAuth(t, AuthOptions{})
	var log eventLog
	auth.OnAuthStateChange(log.record)

	res, err := auth.SignUp(ctx, " Seller@Example.com ", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "seller@example.com", res.User.Email)
	require.NotNil(t, res.Session)
	assert.Equal(t, res.User.ID, res.Session.User.ID)
	assert.NotEmpty(t, res.Session.AccessToken)

	session, err := auth.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, res.User.ID, session.User.ID)
	assert.Equal(t, []AuthEventType{EventSignedIn}, log.types())

	_, err = auth.SignUp(ctx, "seller@example.com", "another1")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestSignUp_Validation(t *testing.T) {
	ctx := context.Background()
	auth, _ := newTestAuth(t, AuthOptions{})

	_, err := auth.SignUp(ctx, "not-an-email", "hunter22")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = auth.SignUp(ctx, "a@b.c", "short")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSignUp_RequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	auth, _ := newTestAuth(t, AuthOptions{RequireEmailConfirmation: true})
	var log eventLog
	auth.OnAuthStateChange(log.record)

	res, err := auth.SignUp(ctx, "new@example.com", "hunter22")
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	assert.Nil(t, res.User.EmailConfirmedAt)
	assert.Empty(t, log.types())

	_, err = auth.SignInWithPassword(ctx, "new@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrEmailNotConfirmed)

	require.NoError(t, auth.ConfirmEmail(ctx, res.User.ID))
	assert.ErrorIs(t, auth.ConfirmEmail(ctx, res.User.ID), ErrNotFound, "already confirmed")

	session, err := auth.SignInWithPassword(ctx, "new@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, session.User.ID)
	assert.NotNil(t, session.User.EmailConfirmedAt)
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	ctx := context.Background()
	auth, _ := newTestAuth(t, AuthOptions{})

	_, err := auth.SignUp(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)

	_, err = auth.SignInWithPassword(ctx, "a@example.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = auth.SignInWithPassword(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestSignIn_RateLimited(t *testing.T) {
	ctx := context.Background()
	auth, _ := newTestAuth(t, AuthOptions{SignInRate: rate.Every(time.Hour), SignInBurst: 2})

	_, err := auth.SignUp(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = auth.SignInWithPassword(ctx, "a@example.com", "wrong-pass")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	}
	_, err = auth.SignInWithPassword(ctx, "a@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrRateLimited)

	// Limits are per email address.
	_, err = auth.SignInWithPassword(ctx, "b@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	auth, _ := newTestAuth(t, AuthOptions{})
	var log eventLog
	sub := auth.OnAuthStateChange(log.record)

	_, err := auth.SignUp(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)
	require.NoError(t, auth.SignOut(ctx))

	session, err := auth.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Equal(t, []AuthEventType{EventSignedIn, EventSignedOut}, log.types())

	sub.Unsubscribe()
	sub.Unsubscribe()
	_, err = auth.SignInWithPassword(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)
	assert.Len(t, log.types(), 2, "no events after unsubscribe")
}

func TestSession_PersistedEncrypted(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "auth.db")
	key, err := DeriveKey("correct horse battery staple")
	require.NoError(t, err)

	b, err := NewSQLiteBackend(dbPath)
	require.NoError(t, err)
	auth := NewLocalAuth(b, AuthOptions{EncryptionKey: key, BcryptCost: bcrypt.MinCost})
	res, err := auth.SignUp(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)

	var stored string
	require.NoError(t, b.db.Get(&stored, "SELECT encrypted_tokens FROM sessions WHERE id = 1"))
	assert.NotContains(t, stored, res.Session.AccessToken)
	require.NoError(t, b.Close())

	// A fresh instance restores the session from disk.
	b, err = NewSQLiteBackend(dbPath)
	require.NoError(t, err)
	defer b.Close()
	restored := NewLocalAuth(b, AuthOptions{EncryptionKey: key})

	session, err := restored.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, res.Session.AccessToken, session.AccessToken)
	assert.Equal(t, res.User.ID, session.User.ID)

	require.NoError(t, restored.SignOut(ctx))
	var count int
	require.NoError(t, b.db.Get(&count, "SELECT COUNT(*) FROM sessions"))
	assert.Zero(t, count)
}

func TestGetSession_Expired(t *testing.T) {
	ctx := context.Background()
	auth, _ := newTestAuth(t, AuthOptions{SessionTTL: time.Minute})

	_, err := auth.SignUp(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)

	auth.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	session, err := auth.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestRefreshSession(t *testing.T) {
	ctx := context.Background()
	auth, _ := newTestAuth(t, AuthOptions{})

	_, err := auth.RefreshSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	res, err := auth.SignUp(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)

	var log eventLog
	auth.OnAuthStateChange(log.record)

	refreshed, err := auth.RefreshSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, res.Session.AccessToken, refreshed.AccessToken)
	assert.NotEqual(t, res.Session.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, res.User.ID, refreshed.User.ID)

	require.Len(t, log.events, 1)
	assert.Equal(t, EventTokenRefreshed, log.events[0].Type)
	assert.Equal(t, refreshed.AccessToken, log.events[0].Session.AccessToken)
}

func TestRefreshSession_SignedOutMidway(t *testing.T) {
	ctx := context.Background()
	auth, _ := newTestAuth(t, AuthOptions{})

	_, err := auth.SignUp(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)

	var log eventLog
	auth.OnAuthStateChange(log.record)

	// The first clock read is the expiry check of the current session, the
	// second stamps the new one. Sign out in between.
	var calls int
	auth.now = func() time.Time {
		calls++
		if calls == 2 {
			require.NoError(t, auth.SignOut(ctx))
		}
		return time.Now().UTC()
	}

	_, err = auth.RefreshSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, []AuthEventType{EventSignedOut}, log.types())

	session, err := auth.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session, "sign out sticks")
}

func TestRefreshSession_ReplacedMidway(t *testing.T) {
	ctx := context.Background()
	auth, _ := newTestAuth(t, AuthOptions{})

	_, err := auth.SignUp(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)
	_, err = auth.SignUp(ctx, "b@example.com", "hunter22")
	require.NoError(t, err)
	_, err = auth.SignInWithPassword(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)

	var log eventLog
	auth.OnAuthStateChange(log.record)

	var calls int
	auth.now = func() time.Time {
		calls++
		if calls == 2 {
			_, err := auth.SignInWithPassword(ctx, "b@example.com", "hunter22")
			require.NoError(t, err)
		}
		return time.Now().UTC()
	}

	_, err = auth.RefreshSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, []AuthEventType{EventSignedIn}, log.types())

	session, err := auth.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "b@example.com", session.User.Email)
}

func TestSessionRefresher_RefreshesNearExpiry(t *testing.T) {
	ctx := context.Background()
	auth, _ := newTestAuth(t, AuthOptions{SessionTTL: 10 * time.Minute})
	refresher := NewSessionRefresher(auth, time.Minute, 5*time.Minute)

	assert.False(t, refresher.check(ctx), "nothing to refresh without a session")

	res, err := auth.SignUp(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)
	assert.False(t, refresher.check(ctx), "fresh session is left alone")

	auth.now = func() time.Time { return res.Session.ExpiresAt.Add(-time.Minute) }
	assert.True(t, refresher.check(ctx))

	session, err := auth.GetSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, res.Session.AccessToken, session.AccessToken)
}

func TestSessionRefresher_RunStopsOnCancel(t *testing.T) {
	auth, _ := newTestAuth(t, AuthOptions{})
	refresher := NewSessionRefresher(auth, 10*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		refresher.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}
