package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	minPasswordLength  = 6
	defaultSessionTTL  = time.Hour
	defaultSignInBurst = 5
)

// AuthOptions configures LocalAuth.
type AuthOptions struct {
	// RequireEmailConfirmation defers activation of new accounts until
	// ConfirmEmail is called. SignUp then returns no session.
	RequireEmailConfirmation bool
	SessionTTL               time.Duration
	// SignInRate limits password attempts per email address.
	SignInRate  rate.Limit
	SignInBurst int
	BcryptCost  int
	// EncryptionKey enables persisting the current session across restarts.
	// Without it the session lives in memory only.
	EncryptionKey []byte
}

// LocalAuth is the auth service backed by the users and sessions tables.
// Like a hosted auth client it holds a single current session.
type LocalAuth struct {
	db   *SQLiteBackend
	opts AuthOptions
	now  func() time.Time

	// sessionMu serializes session changes together with their events.
	// Subscribers must not sign in or out from their handlers.
	sessionMu sync.Mutex

	mu       sync.Mutex
	current  *Session
	loaded   bool
	limiters map[string]*rate.Limiter

	subsMu  sync.Mutex
	subs    map[int]func(AuthEvent)
	nextSub int
}

func NewLocalAuth(db *SQLiteBackend, opts AuthOptions) *LocalAuth {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.SignInRate == 0 {
		opts.SignInRate = rate.Every(12 * time.Second)
	}
	if opts.SignInBurst <= 0 {
		opts.SignInBurst = defaultSignInBurst
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &LocalAuth{
		db:       db,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		limiters: make(map[string]*rate.Limiter),
		subs:     make(map[int]func(AuthEvent)),
	}
}

type userRow struct {
	User
	PasswordHash string `db:"password_hash"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *LocalAuth) userByEmail(ctx context.Context, email string) (*userRow, error) {
	a.db.mu.RLock()
	defer a.db.mu.RUnlock()

	var row userRow
	err := a.db.db.GetContext(ctx, &row,
		"SELECT id, email, password_hash, created_at, email_confirmed_at FROM users WHERE email = ?", email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &row, nil
}

// SignUp registers a new account.
func (a *LocalAuth) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email address", ErrInvalid)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password should be at least %d characters", ErrInvalid, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := a.now()
	user := User{ID: uuid.New().String(), Email: email, CreatedAt: now}
	if !a.opts.RequireEmailConfirmation {
		user.EmailConfirmedAt = &now
	}

	if err := a.insertUser(ctx, user, string(hash)); err != nil {
		return nil, err
	}
	log.Info().Str("userId", user.ID).Bool("confirmed", user.EmailConfirmedAt != nil).Msg("user signed up")

	if a.opts.RequireEmailConfirmation {
		return &SignUpResult{User: user}, nil
	}

	session, err := a.startSession(ctx, user, nil, EventSignedIn)
	if err != nil {
		return nil, err
	}
	return &SignUpResult{User: user, Session: session}, nil
}

func (a *LocalAuth) insertUser(ctx context.Context, user User, hash string) error {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()

	var count int
	if err := a.db.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users WHERE email = ?", user.Email); err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if count > 0 {
		return ErrUserExists
	}

	_, err := a.db.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, email_confirmed_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Email, hash, user.CreatedAt, user.EmailConfirmedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// ConfirmEmail activates an account created while email confirmation is
// required.
func (a *LocalAuth) ConfirmEmail(ctx context.Context, userID string) error {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()

	res, err := a.db.db.ExecContext(ctx,
		"UPDATE users SET email_confirmed_at = ? WHERE id = ? AND email_confirmed_at IS NULL", a.now(), userID)
	if err != nil {
		return fmt.Errorf("failed to confirm email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unconfirmed user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (a *LocalAuth) limiter(email string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[email]
	if !ok {
		l = rate.NewLimiter(a.opts.SignInRate, a.opts.SignInBurst)
		a.limiters[email] = l
	}
	return l
}

// SignInWithPassword authenticates and makes the new session current.
func (a *LocalAuth) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if !a.limiter(email).Allow() {
		return nil, ErrRateLimited
	}

	row, err := a.userByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}
	if row.EmailConfirmedAt == nil {
		return nil, ErrEmailNotConfirmed
	}

	session, err := a.startSession(ctx, row.User, nil, EventSignedIn)
	if err != nil {
		return nil, err
	}
	log.Info().Str("userId", row.ID).Msg("user signed in")
	return session, nil
}

// SignOut ends the current session. Signing out without a session is not an
// error.
func (a *LocalAuth) SignOut(ctx context.Context) error {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	a.mu.Lock()
	a.current = nil
	a.loaded = true
	a.mu.Unlock()

	if err := a.deleteStoredSession(ctx); err != nil {
		return err
	}
	a.emit(EventSignedOut, nil)
	return nil
}

// GetSession returns the current session, restoring a persisted one on first
// use. Expired sessions are treated as absent.
func (a *LocalAuth) GetSession(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		stored, err := a.loadStoredSession(ctx)
		if err != nil {
			return nil, err
		}
		a.current = stored
		a.loaded = true
	}
	if a.current == nil || !a.current.ExpiresAt.After(a.now()) {
		return nil, nil
	}
	s := *a.current
	return &s, nil
}

// RefreshSession rotates the tokens of the current session and extends its
// lifetime. It returns ErrNoSession if the session ended or was replaced
// while the new tokens were issued.
func (a *LocalAuth) RefreshSession(ctx context.Context) (*Session, error) {
	current, err := a.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNoSession
	}

	session, err := a.startSession(ctx, current.User, current, EventTokenRefreshed)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("userId", session.User.ID).Time("expiresAt", session.ExpiresAt).Msg("session refreshed")
	return session, nil
}

// startSession issues new tokens for user and makes them current. When
// replaces is set the swap only happens while replaces is still the current
// session. The event is emitted before another session change can start.
func (a *LocalAuth) startSession(ctx context.Context, user User, replaces *Session, typ AuthEventType) (*Session, error) {
	access, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	refresh, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	session := &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    a.now().Add(a.opts.SessionTTL),
		User:         user,
	}

	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	if replaces != nil {
		a.mu.Lock()
		stale := a.current == nil || a.current.RefreshToken != replaces.RefreshToken
		a.mu.Unlock()
		if stale {
			return nil, ErrNoSession
		}
	}

	if err := a.storeSession(ctx, session); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.current = session
	a.loaded = true
	a.mu.Unlock()

	a.emit(typ, session)
	s := *session
	return &s, nil
}

func (a *LocalAuth) storeSession(ctx context.Context, session *Session) error {
	if a.opts.EncryptionKey == nil {
		return nil
	}
	encrypted, err := sealSession(session, a.opts.EncryptionKey)
	if err != nil {
		return err
	}

	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	_, err = a.db.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, encrypted_tokens, expires_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			encrypted_tokens = excluded.encrypted_tokens,
			expires_at = excluded.expires_at
	`, session.User.ID, encrypted, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// loadStoredSession returns nil, nil if no session is persisted.
func (a *LocalAuth) loadStoredSession(ctx context.Context) (*Session, error) {
	if a.opts.EncryptionKey == nil {
		return nil, nil
	}

	a.db.mu.RLock()
	var row struct {
		UserID    string `db:"user_id"`
		Encrypted string `db:"encrypted_tokens"`
	}
	err := a.db.db.GetContext(ctx, &row, "SELECT user_id, encrypted_tokens FROM sessions WHERE id = 1")
	a.db.mu.RUnlock()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return openSession(row.Encrypted, row.UserID, a.opts.EncryptionKey)
}

func (a *LocalAuth) deleteStoredSession(ctx context.Context) error {
	if a.opts.EncryptionKey == nil {
		return nil
	}
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	if _, err := a.db.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// OnAuthStateChange registers fn for session change notifications. Events
// are delivered synchronously on the goroutine that caused them, in the order
// the changes happened.
func (a *LocalAuth) OnAuthStateChange(fn func(AuthEvent)) Subscription {
	a.subsMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.subsMu.Unlock()

	return &subscription{cancel: func() {
		a.subsMu.Lock()
		delete(a.subs, id)
		a.subsMu.Unlock()
	}}
}

func (a *LocalAuth) emit(typ AuthEventType, session *Session) {
	a.subsMu.Lock()
	fns := make([]func(AuthEvent), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subsMu.Unlock()

	for _, fn := range fns {
		ev := AuthEvent{Type: typ}
		if session != nil {
			s := *session
			ev.Session = &s
		}
		fn(ev)
	}
}
