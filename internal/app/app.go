// Package app wires the backend, API client and stores together and owns
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/raine/resellkit/config"
	"github.com/raine/resellkit/internal/backend"
	"github.com/raine/resellkit/internal/brain"
	"github.com/raine/resellkit/internal/metrics"
	"github.com/raine/resellkit/internal/server"
	"github.com/raine/resellkit/internal/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Runner is a background service that runs until its context is cancelled.
type Runner interface {
	Run(ctx context.Context)
}

// Deps are the services an App is built from.
type Deps struct {
	Auth      backend.Auth
	Profiles  backend.Profiles
	Inventory backend.Inventory
	Listings  backend.Listings
	Objects   backend.ObjectStorage
	Brain     *brain.Client

	// Optional.
	Registry  *prometheus.Registry
	Collector *metrics.Collector
	Refresher Runner
	Closers   []io.Closer
}

type App struct {
	Brain     *brain.Client
	Auth      *store.AuthStore
	Inventory *store.InventoryStore
	Listings  *store.ListingStore

	deps     Deps
	registry *prometheus.Registry

	mu           sync.Mutex
	started      bool
	stopListener func()
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// New opens the local backend described by cfg and builds the App on it.
func New(cfg *config.Config) (*App, error) {
	db, err := backend.NewSQLiteBackend(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open backend: %w", err)
	}
	log.Info().Str("dbPath", cfg.DBPath).Msg("backend initialized")

	objects, err := backend.NewFileStorage(cfg.StorageRoot, cfg.PublicURL)
	if err != nil {
		db.Close()
		return nil, err
	}

	var key []byte
	if cfg.TokenKey != "" {
		key, err = backend.DeriveKey(cfg.TokenKey)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
	} else {
		log.Warn().Msg("no token key configured, sessions will not survive restarts")
	}

	auth := backend.NewLocalAuth(db, backend.AuthOptions{
		RequireEmailConfirmation: cfg.RequireEmailConfirmation,
		SessionTTL:               cfg.SessionTTL,
		SignInRate:               signInRate(cfg.SignInPerMinute),
		SignInBurst:              cfg.SignInPerMinute,
		EncryptionKey:            key,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	client := brain.NewClient(brain.ClientOpts{
		BaseURL: cfg.APIBaseURL,
		Auth:    cfg.APIToken,
		Timeout: cfg.APITimeout,
		Metrics: collector,
	})

	return NewWithDeps(Deps{
		Auth:      auth,
		Profiles:  db,
		Inventory: db,
		Listings:  db,
		Objects:   objects,
		Brain:     client,
		Registry:  reg,
		Collector: collector,
		Refresher: backend.NewSessionRefresher(auth, cfg.RefreshInterval, 0),
		Closers:   []io.Closer{db},
	}), nil
}

// signInRate spreads perMinute attempts over a minute. Zero leaves the
// backend default.
func signInRate(perMinute int) rate.Limit {
	if perMinute <= 0 {
		return 0
	}
	return rate.Every(time.Minute / time.Duration(perMinute))
}

// NewWithDeps builds the stores on the given services.
func NewWithDeps(deps Deps) *App {
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	collector := deps.Collector
	if collector == nil {
		collector = metrics.NewCollector(reg)
	}

	authStore := store.NewAuthStore(deps.Auth, deps.Profiles, collector)
	inventory := store.NewInventoryStore(deps.Inventory, collector)
	listings := store.NewListingStore(deps.Listings, deps.Objects, authStore, collector)
	authStore.OnUserChange(func(userID string) {
		listings.Reset()
		inventory.Reset()
		log.Debug().Str("userId", userID).Msg("user changed, cleared caches")
	})

	return &App{
		Brain:     deps.Brain,
		Auth:      authStore,
		Inventory: inventory,
		Listings:  listings,
		deps:      deps,
		registry:  reg,
	}
}

// Start restores the session, starts the auth listener and the session
// refresher. Calling Start again is a no-op.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true

	ctx, a.cancel = context.WithCancel(ctx)
	a.stopListener = a.Auth.StartListener(ctx)

	if a.deps.Refresher != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.deps.Refresher.Run(ctx)
		}()
	}
	log.Info().Str("status", a.Auth.Status().String()).Msg("app started")
}

// Handler returns the HTTP routes serving health, metrics and, when the
// object storage can serve them, uploaded objects.
func (a *App) Handler() http.Handler {
	deps := server.Deps{Metrics: metrics.Handler(a.registry)}
	if h, ok := a.deps.Objects.(interface{ Handler() http.Handler }); ok {
		deps.Objects = h.Handler()
	}
	if p, ok := a.deps.Profiles.(server.Pinger); ok {
		deps.DB = p
	}
	return server.NewRouter(deps)
}

// Close stops background work and releases the services. It is safe to call
// more than once.
func (a *App) Close() error {
	a.mu.Lock()
	if a.stopListener != nil {
		a.stopListener()
		a.stopListener = nil
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	closers := a.deps.Closers
	a.deps.Closers = nil
	a.mu.Unlock()

	a.wg.Wait()

	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
