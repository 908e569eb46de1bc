package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/raine/resellkit/internal/backend"
	"github.com/rs/zerolog/log"
)

type AuthStatus int

const (
	AuthSignedOut AuthStatus = iota
	AuthAuthenticating
	AuthSignedIn
)

func (s AuthStatus) String() string {
	switch s {
	case AuthSignedOut:
		return "signed_out"
	case AuthAuthenticating:
		return "authenticating"
	case AuthSignedIn:
		return "signed_in"
	default:
		return fmt.Sprintf("AuthStatus(%d)", int(s))
	}
}

// AuthStore tracks the signed-in user and their profile.
type AuthStore struct {
	callState

	auth     backend.Auth
	profiles backend.Profiles

	mu      sync.RWMutex
	user    *backend.User
	profile *backend.Profile
	status  AuthStatus

	watchMu  sync.Mutex
	watchers []func(userID string)
}

func NewAuthStore(auth backend.Auth, profiles backend.Profiles, rec Recorder) *AuthStore {
	return &AuthStore{
		callState: callState{name: "auth", rec: recorderOrNop(rec)},
		auth:      auth,
		profiles:  profiles,
	}
}

// User returns a copy of the signed-in user, or nil.
func (s *AuthStore) User() *backend.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Profile returns a copy of the signed-in user's profile, or nil.
func (s *AuthStore) Profile() *backend.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	p := *s.profile
	p.PreferredMarketplaces = slices.Clone(p.PreferredMarketplaces)
	return &p
}

func (s *AuthStore) Status() AuthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// CurrentUserID implements UserSource.
func (s *AuthStore) CurrentUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userIDLocked()
}

func (s *AuthStore) setAuthenticating() {
	s.mu.Lock()
	s.status = AuthAuthenticating
	s.mu.Unlock()
}

// settle derives the status from whether a user is held.
func (s *AuthStore) settle() {
	s.mu.Lock()
	if s.user != nil {
		s.status = AuthSignedIn
	} else {
		s.status = AuthSignedOut
	}
	s.mu.Unlock()
}

// OnUserChange registers fn to be called with the new user id, "" on sign
// out, whenever the signed-in user changes.
func (s *AuthStore) OnUserChange(fn func(userID string)) {
	s.watchMu.Lock()
	s.watchers = append(s.watchers, fn)
	s.watchMu.Unlock()
}

func (s *AuthStore) notifyUserChange(prev, next string) {
	if prev == next {
		return
	}
	s.watchMu.Lock()
	watchers := slices.Clone(s.watchers)
	s.watchMu.Unlock()
	for _, fn := range watchers {
		fn(next)
	}
}

func (s *AuthStore) setSignedIn(user backend.User, profile *backend.Profile) {
	s.mu.Lock()
	prev := s.userIDLocked()
	s.user = &user
	s.profile = profile
	s.status = AuthSignedIn
	s.mu.Unlock()
	s.notifyUserChange(prev, user.ID)
}

func (s *AuthStore) clear() {
	s.mu.Lock()
	prev := s.userIDLocked()
	s.user = nil
	s.profile = nil
	s.status = AuthSignedOut
	s.mu.Unlock()
	s.notifyUserChange(prev, "")
}

func (s *AuthStore) userIDLocked() string {
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// SignUp registers an account and makes sure it has a profile row. It does
// not sign the user in: accounts may need to confirm their email first, and
// an account the backend activates immediately is picked up by the listener.
func (s *AuthStore) SignUp(ctx context.Context, email, password string) (user *backend.User, err error) {
	s.begin()
	s.setAuthenticating()
	defer func() {
		s.settle()
		s.end("sign_up", err)
	}()

	res, err := s.auth.SignUp(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}

	if err := s.ensureProfile(ctx, res.User.ID); err != nil {
		return nil, err
	}

	log.Info().Str("userId", res.User.ID).Bool("hasSession", res.Session != nil).Msg("signed up")
	return &res.User, nil
}

func (s *AuthStore) ensureProfile(ctx context.Context, userID string) error {
	existing, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to check profile: %w", err)
	}
	if existing != nil {
		return nil
	}
	if _, err := s.profiles.InsertProfile(ctx, userID, backend.ProfilePatch{}); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// SignIn authenticates with email and password and loads the user's profile.
func (s *AuthStore) SignIn(ctx context.Context, email, password string) (user *backend.User, err error) {
	s.begin()
	s.setAuthenticating()
	defer func() {
		s.settle()
		s.end("sign_in", err)
	}()

	session, err := s.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	profile := s.fetchProfile(ctx, session.User.ID)
	s.setSignedIn(session.User, profile)

	log.Info().Str("userId", session.User.ID).Msg("signed in")
	u := session.User
	return &u, nil
}

// fetchProfile loads a user's profile, falling back to a bare profile when
// the row is missing or can't be read.
func (s *AuthStore) fetchProfile(ctx context.Context, userID string) *backend.Profile {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to fetch profile")
	}
	if profile == nil {
		return &backend.Profile{ID: userID}
	}
	return profile
}

// SignOut ends the session and clears the user and profile. On failure the
// current state is kept.
func (s *AuthStore) SignOut(ctx context.Context) (err error) {
	s.begin()
	defer func() { s.end("sign_out", err) }()

	if err := s.auth.SignOut(ctx); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	s.clear()
	log.Info().Msg("signed out")
	return nil
}

// UpdateProfile creates or updates the signed-in user's profile and replaces
// the local copy with the stored row.
func (s *AuthStore) UpdateProfile(ctx context.Context, patch backend.ProfilePatch) (profile *backend.Profile, err error) {
	userID := s.CurrentUserID()
	if userID == "" {
		return nil, s.fail("update_profile", ErrNotSignedIn)
	}

	s.begin()
	defer func() { s.end("update_profile", err) }()

	if patch.Username != nil && *patch.Username != "" && len([]rune(*patch.Username)) < minUsernameLength {
		return nil, ErrUsernameTooShort
	}

	existing, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check profile: %w", err)
	}
	if existing == nil {
		profile, err = s.profiles.InsertProfile(ctx, userID, patch)
	} else {
		profile, err = s.profiles.UpdateProfile(ctx, userID, patch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("failed to update profile: no row returned")
	}

	s.mu.Lock()
	if s.user != nil && s.user.ID == userID {
		s.profile = profile
	}
	s.mu.Unlock()

	log.Debug().Str("userId", userID).Msg("profile updated")
	p := *profile
	p.PreferredMarketplaces = slices.Clone(p.PreferredMarketplaces)
	return &p, nil
}

// StartListener restores the current session and then mirrors auth state
// changes into the store until stop is called. Events are applied
// idempotently: the profile is only re-fetched when the user changes.
func (s *AuthStore) StartListener(ctx context.Context) (stop func()) {
	log.Debug().Msg("starting auth listener")

	session, err := s.auth.GetSession(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to restore session")
	}
	if session != nil {
		s.applySession(ctx, session.User)
	}

	sub := s.auth.OnAuthStateChange(func(ev backend.AuthEvent) {
		s.handleEvent(ctx, ev)
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Unsubscribe()
			log.Debug().Msg("auth listener stopped")
		})
	}
}

func (s *AuthStore) handleEvent(ctx context.Context, ev backend.AuthEvent) {
	log.Debug().Str("event", string(ev.Type)).Msg("auth state changed")

	switch ev.Type {
	case backend.EventSignedIn, backend.EventTokenRefreshed, backend.EventUserUpdated:
		if ev.Session != nil {
			s.applySession(ctx, ev.Session.User)
		}
	case backend.EventSignedOut:
		s.clear()
	}
}

func (s *AuthStore) applySession(ctx context.Context, user backend.User) {
	s.mu.Lock()
	if s.user != nil && s.user.ID == user.ID && s.profile != nil {
		s.user = &user
		s.status = AuthSignedIn
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.setSignedIn(user, s.fetchProfile(ctx, user.ID))
}
