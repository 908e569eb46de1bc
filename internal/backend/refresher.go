package backend

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultRefreshInterval is the time between session expiry checks.
	DefaultRefreshInterval = time.Minute

	// DefaultRefreshMargin is how long before expiry a session is refreshed.
	DefaultRefreshMargin = 5 * time.Minute
)

// SessionRefresher keeps the current session of a LocalAuth alive by
// refreshing it shortly before it expires.
type SessionRefresher struct {
	auth     *LocalAuth
	interval time.Duration
	margin   time.Duration
}

func NewSessionRefresher(auth *LocalAuth, interval, margin time.Duration) *SessionRefresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &SessionRefresher{auth: auth, interval: interval, margin: margin}
}

// Run starts the refresh loop. It blocks until the context is cancelled.
func (r *SessionRefresher) Run(ctx context.Context) {
	log.Info().Dur("interval", r.interval).Dur("margin", r.margin).Msg("starting session refresher")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session refresher stopped")
			return
		case <-ticker.C:
			r.check(ctx)
		}
	}
}

// check refreshes the session if it expires within the margin. It reports
// whether a refresh happened.
func (r *SessionRefresher) check(ctx context.Context) bool {
	session, err := r.auth.GetSession(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load session")
		return false
	}
	if session == nil {
		return false
	}
	if session.ExpiresAt.Sub(r.auth.now()) > r.margin {
		return false
	}

	if _, err := r.auth.RefreshSession(ctx); err != nil {
		if !errors.Is(err, ErrNoSession) {
			log.Error().Err(err).Str("userId", session.User.ID).Msg("failed to refresh session")
		}
		return false
	}
	return true
}
