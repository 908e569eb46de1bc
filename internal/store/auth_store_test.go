package store

import (
	"context"
	"testing"

	"github.com/raine/resellkit/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestAuthStore_SignUpCreatesProfile(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuth()
	profiles := newFakeProfiles()
	rec := &fakeRecorder{}
	s := NewAuthStore(auth, profiles, rec)

	user, err := s.SignUp(ctx, "new@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "new-user", user.ID)

	p, err := profiles.GetProfile(ctx, "new-user")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, backend.Profile{ID: "new-user"}, *p)

	assert.Equal(t, AuthSignedOut, s.Status(), "sign-up does not activate the session")
	assert.Nil(t, s.User())
	assert.False(t, s.Loading())
	assert.Empty(t, s.Err())
	assert.Equal(t, []string{"auth.sign_up:ok"}, rec.ops)
}

func TestAuthStore_SignUpKeepsExistingProfile(t *testing.T) {
	ctx := context.Background()
	profiles := newFakeProfiles()
	_, err := profiles.InsertProfile(ctx, "new-user", backend.ProfilePatch{Username: strPtr("keeper")})
	require.NoError(t, err)
	s := NewAuthStore(newFakeAuth(), profiles, nil)

	_, err = s.SignUp(ctx, "new@example.com", "hunter22")
	require.NoError(t, err)

	p, _ := profiles.GetProfile(ctx, "new-user")
	assert.Equal(t, "keeper", *p.Username)
}

func TestAuthStore_SignUpFailure(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuth()
	auth.SignUpFunc = func(ctx context.Context, email, password string) (*backend.SignUpResult, error) {
		return nil, backend.ErrUserExists
	}
	s := NewAuthStore(auth, newFakeProfiles(), nil)

	_, err := s.SignUp(ctx, "a@example.com", "hunter22")
	assert.ErrorIs(t, err, backend.ErrUserExists)
	assert.Contains(t, s.Err(), "user already registered")
	assert.Equal(t, AuthSignedOut, s.Status())
	assert.False(t, s.Loading())
}

func TestAuthStore_SignInLoadsProfile(t *testing.T) {
	ctx := context.Background()
	profiles := newFakeProfiles()
	_, err := profiles.InsertProfile(ctx, "user-1", backend.ProfilePatch{Username: strPtr("seller")})
	require.NoError(t, err)
	s := NewAuthStore(newFakeAuth(), profiles, nil)

	user, err := s.SignIn(ctx, "user-1@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, AuthSignedIn, s.Status())
	assert.Equal(t, "user-1", s.CurrentUserID())
	assert.Equal(t, "seller", *s.Profile().Username)
}

func TestAuthStore_SignInWithoutProfile(t *testing.T) {
	ctx := context.Background()
	s := NewAuthStore(newFakeAuth(), newFakeProfiles(), nil)

	_, err := s.SignIn(ctx, "user-1@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, AuthSignedIn, s.Status())
	assert.Equal(t, &backend.Profile{ID: "user-1"}, s.Profile())
}

func TestAuthStore_SignInProfileFetchFails(t *testing.T) {
	ctx := context.Background()
	profiles := newFakeProfiles()
	profiles.GetErr = errBoom
	s := NewAuthStore(newFakeAuth(), profiles, nil)

	_, err := s.SignIn(ctx, "user-1@example.com", "hunter22")
	require.NoError(t, err, "profile fetch failure is not a sign-in failure")
	assert.Equal(t, AuthSignedIn, s.Status())
	assert.Equal(t, &backend.Profile{ID: "user-1"}, s.Profile())
	assert.Empty(t, s.Err())
}

func TestAuthStore_SignInFailure(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuth()
	auth.SignInFunc = func(ctx context.Context, email, password string) (*backend.Session, error) {
		return nil, backend.ErrInvalidCredential
	}
	s := NewAuthStore(auth, newFakeProfiles(), nil)

	_, err := s.SignIn(ctx, "a@example.com", "bad")
	assert.ErrorIs(t, err, backend.ErrInvalidCredential)
	assert.Equal(t, AuthSignedOut, s.Status())
	assert.Contains(t, s.Err(), "invalid login credentials")
}

func TestAuthStore_SignOut(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuth()
	s := NewAuthStore(auth, newFakeProfiles(), nil)

	_, err := s.SignIn(ctx, "user-1@example.com", "hunter22")
	require.NoError(t, err)

	auth.SignOutFunc = func(ctx context.Context) error { return errBoom }
	assert.ErrorIs(t, s.SignOut(ctx), errBoom)
	assert.Equal(t, AuthSignedIn, s.Status(), "failed sign-out keeps the user")
	assert.Contains(t, s.Err(), "boom")

	auth.SignOutFunc = nil
	require.NoError(t, s.SignOut(ctx))
	assert.Equal(t, AuthSignedOut, s.Status())
	assert.Nil(t, s.User())
	assert.Nil(t, s.Profile())
	assert.Empty(t, s.Err())
}

func TestAuthStore_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	profiles := newFakeProfiles()
	s := NewAuthStore(newFakeAuth(), profiles, nil)

	_, err := s.UpdateProfile(ctx, backend.ProfilePatch{Username: strPtr("seller")})
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.Equal(t, "no user logged in", s.Err())

	_, err = s.SignIn(ctx, "user-1@example.com", "hunter22")
	require.NoError(t, err)

	// No profile row yet: inserted.
	p, err := s.UpdateProfile(ctx, backend.ProfilePatch{Username: strPtr("seller")})
	require.NoError(t, err)
	assert.Equal(t, "seller", *p.Username)
	assert.Contains(t, profiles.Calls, "InsertProfile")

	// Existing row: updated, other fields kept.
	p, err = s.UpdateProfile(ctx, backend.ProfilePatch{BusinessName: strPtr("Thrift Co")})
	require.NoError(t, err)
	assert.Equal(t, "seller", *p.Username)
	assert.Equal(t, "Thrift Co", *p.BusinessName)
	assert.Contains(t, profiles.Calls, "UpdateProfile")
	assert.Equal(t, "Thrift Co", *s.Profile().BusinessName)
}

func TestAuthStore_UpdateProfileReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewAuthStore(newFakeAuth(), newFakeProfiles(), nil)
	_, err := s.SignIn(ctx, "user-1@example.com", "hunter22")
	require.NoError(t, err)

	markets := []string{"ebay", "etsy"}
	p, err := s.UpdateProfile(ctx, backend.ProfilePatch{PreferredMarketplaces: &markets})
	require.NoError(t, err)

	p.PreferredMarketplaces[0] = "changed"
	assert.Equal(t, []string{"ebay", "etsy"}, []string(s.Profile().PreferredMarketplaces))
}

func TestAuthStore_OnUserChange(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuth()
	s := NewAuthStore(auth, newFakeProfiles(), nil)

	var changes []string
	s.OnUserChange(func(userID string) { changes = append(changes, userID) })

	stop := s.StartListener(ctx)
	defer stop()

	_, err := s.SignIn(ctx, "user-1@example.com", "hunter22")
	require.NoError(t, err)
	auth.Emit(backend.AuthEvent{Type: backend.EventTokenRefreshed, Session: testSession("user-1")})
	auth.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: testSession("user-2")})
	require.NoError(t, s.SignOut(ctx))
	auth.Emit(backend.AuthEvent{Type: backend.EventSignedOut})

	assert.Equal(t, []string{"user-1", "user-2", ""}, changes)
}

func TestAuthStore_UpdateProfileShortUsername(t *testing.T) {
	ctx := context.Background()
	profiles := newFakeProfiles()
	s := NewAuthStore(newFakeAuth(), profiles, nil)
	_, err := s.SignIn(ctx, "user-1@example.com", "hunter22")
	require.NoError(t, err)
	before := profiles.calls()

	_, err = s.UpdateProfile(ctx, backend.ProfilePatch{Username: strPtr("ab")})
	assert.ErrorIs(t, err, ErrUsernameTooShort)
	assert.Equal(t, before, profiles.calls(), "no backend call for an invalid username")
	assert.Equal(t, "username must be at least 3 characters", s.Err())
	assert.False(t, s.Loading())
}

func TestAuthStore_ListenerRestoresSession(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuth()
	auth.GetSessionFunc = func(ctx context.Context) (*backend.Session, error) {
		return testSession("user-7"), nil
	}
	s := NewAuthStore(auth, newFakeProfiles(), nil)

	stop := s.StartListener(ctx)
	defer stop()

	assert.Equal(t, AuthSignedIn, s.Status())
	assert.Equal(t, "user-7", s.CurrentUserID())
	assert.Equal(t, &backend.Profile{ID: "user-7"}, s.Profile())
}

func TestAuthStore_ListenerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuth()
	profiles := newFakeProfiles()
	_, err := profiles.InsertProfile(ctx, "user-1", backend.ProfilePatch{Username: strPtr("seller")})
	require.NoError(t, err)
	s := NewAuthStore(auth, profiles, nil)

	stop := s.StartListener(ctx)
	assert.Equal(t, AuthSignedOut, s.Status())

	auth.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: testSession("user-1")})
	first := s.Profile()
	gets := profiles.gets()

	auth.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: testSession("user-1")})
	auth.Emit(backend.AuthEvent{Type: backend.EventTokenRefreshed, Session: testSession("user-1")})
	assert.Equal(t, AuthSignedIn, s.Status())
	assert.Equal(t, first, s.Profile())
	assert.Equal(t, gets, profiles.gets(), "same user does not re-fetch the profile")

	auth.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: testSession("user-2")})
	assert.Equal(t, "user-2", s.CurrentUserID())
	assert.Equal(t, gets+1, profiles.gets())

	auth.Emit(backend.AuthEvent{Type: backend.EventSignedOut})
	assert.Equal(t, AuthSignedOut, s.Status())
	assert.Nil(t, s.User())
	assert.Nil(t, s.Profile())

	stop()
	stop()
	assert.Zero(t, auth.subscribers())

	auth.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: testSession("user-1")})
	assert.Equal(t, AuthSignedOut, s.Status(), "stopped listener ignores events")
}

func TestAuthStatus_String(t *testing.T) {
	assert.Equal(t, "signed_out", AuthSignedOut.String())
	assert.Equal(t, "authenticating", AuthAuthenticating.String())
	assert.Equal(t, "signed_in", AuthSignedIn.String())
}
