// Package app wires storage, services and the HTTP surface into one
// runnable unit for the command line and end-to-end tests.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"

	"shelfwise/internal/ai"
	"shelfwise/internal/audit"
	"shelfwise/internal/cache"
	"shelfwise/internal/catalog"
	"shelfwise/internal/circulation"
	"shelfwise/internal/config"
	"shelfwise/internal/dashboard"
	"shelfwise/internal/events"
	"shelfwise/internal/httpapi"
	"shelfwise/internal/membership"
	"shelfwise/internal/store"
	"shelfwise/internal/store/memory"
	"shelfwise/internal/store/postgres"
	"shelfwise/internal/validate"
)

type App struct {
	Store       *store.Store
	Bus         *events.Bus
	Cache       *cache.Memory
	Users       membership.UserStore
	Membership  membership.Service
	Catalog     catalog.Service
	Circulation circulation.Service
	Dashboard   dashboard.Service
	AI          ai.Service
	Handler     http.Handler

	db *sqlx.DB
}

type Option func(*options)

type options struct {
	now       func() time.Time
	completer ai.Completer
}

// WithClock fixes the clock of every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithCompleter replaces the configured model backend.
func WithCompleter(c ai.Completer) Option {
	return func(o *options) { o.completer = c }
}

// New connects storage per cfg and builds every service. Close releases
// what it opened.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{}
	var (
		backend store.Backend
		history audit.Log
		ping    func(context.Context) error
	)
	switch cfg.Store {
	case config.StoreMemory:
		backend = memory.New()
		history = audit.NewMemoryLog()
		a.Users = membership.NewMemoryStore()
	default:
		db, err := postgres.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, postgres.DefaultPool)
		if err != nil {
			return nil, err
		}
		a.db = db
		backend = postgres.New(db)
		history = audit.NewPostgresLog(db)
		a.Users = membership.NewPostgresStore(db)
		ping = db.PingContext
	}

	meter := otel.Meter("shelfwise")
	a.Bus = events.New(events.WithLogger(log), events.WithMeter(meter))
	a.Bus.SubscribeAll(audit.NewRecorder(history, log, store.ActorFrom).Handle)
	a.Store = store.New(backend, a.Bus, store.WithClock(o.now), store.WithLogger(log))
	a.Cache = cache.NewMemory(cache.WithClock(o.now), cache.WithMeter(meter))

	tokens, err := membership.NewTokens(membership.TokenConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, o.now)
	if err != nil {
		a.Close()
		return nil, err
	}

	completer := o.completer
	if completer == nil {
		completer, err = ai.NewCompleter(ai.Config{
			Provider: cfg.AI.Provider,
			APIKey:   cfg.AI.APIKey,
			BaseURL:  cfg.AI.BaseURL,
			Model:    cfg.AI.Model,
		}, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ai provider: %w", err)
		}
	}
	a.AI = ai.New(completer, log)

	a.Membership = membership.NewService(a.Users, a.Store, tokens, membership.WithLogger(log), membership.WithClock(o.now))
	a.Catalog = catalog.NewService(a.Store, a.Cache,
		catalog.WithDescriber(a.AI),
		catalog.WithHistory(history),
		catalog.WithLogger(log),
		catalog.WithCacheMetrics(cache.NewMetrics(meter)),
	)
	a.Circulation = circulation.NewService(a.Store, a.Cache, circulation.WithLogger(log), circulation.WithMeter(meter))
	a.Dashboard = dashboard.NewService(a.Store)

	a.Handler = httpapi.NewRouter(httpapi.Deps{
		Catalog:       a.Catalog,
		Circulation:   a.Circulation,
		Dashboard:     a.Dashboard,
		Membership:    a.Membership,
		AI:            ai.NewUseCases(a.AI, a.Store),
		Validator:     validate.New(),
		Log:           log,
		RatePerMinute: cfg.RateLimitPerMinute,
		RateBurst:     cfg.RateLimitBurst,
		Ping:          ping,
		Now:           o.now,
	})
	return a, nil
}

// DB is nil for the memory store.
func (a *App) DB() *sqlx.DB { return a.db }

func (a *App) Close() {
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
