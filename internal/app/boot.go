package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrJamesThe3rd/finnysync/internal/auth"
	"github.com/MrJamesThe3rd/finnysync/internal/clock"
	"github.com/MrJamesThe3rd/finnysync/internal/config"
	"github.com/MrJamesThe3rd/finnysync/internal/database"
	"github.com/MrJamesThe3rd/finnysync/internal/localstore"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
	"github.com/MrJamesThe3rd/finnysync/internal/remote/postgres"
)

const devTokenTTL = 30 * 24 * time.Hour

// Runtime is a booted app plus the resources it owns.
type Runtime struct {
	*App
	Session *auth.Session
	// KV is the local store, also home to device-only data such as category rules.
	KV      localstore.KV
	closers []func() error
}

// Boot opens the local store and, when configured, the remote database, then
// starts the app and signs in from the configured token.
func Boot(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	kv, err := localstore.OpenSQLite(cfg.App.DataPath)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{KV: kv, closers: []func() error{kv.Close}}

	var client remote.Client

	if cfg.App.RemoteDSN != "" {
		db, err := database.New(ctx, cfg.App.RemoteDSN, database.Pool{
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			// The app still runs offline; writes queue up until restart.
			logger.Warn("remote unavailable, running local only", "error", err)
		} else {
			rt.closers = append(rt.closers, db.Close)
			pg := postgres.New(db, logger)

			if cfg.DB.Migrate {
				if err := pg.Migrate(ctx); err != nil {
					rt.Close()
					return nil, fmt.Errorf("migrating remote: %w", err)
				}
			}

			client = pg
		}
	}

	c := clock.System()
	rt.Session = auth.NewSession(cfg.Auth.Secret, c, logger)

	rt.App = New(Options{
		KV:                   kv,
		Client:               client,
		Auth:                 rt.Session,
		Clock:                c,
		IDs:                  clock.UUIDs{},
		Logger:               logger,
		Location:             loc,
		Queue:                cfg.QueueConfig(),
		Debounce:             cfg.Sync.Debounce,
		HydrationTimeout:     cfg.Sync.HydrationTimeout,
		ConnectivityInterval: cfg.Sync.ConnectivityInterval,
		UndoDepth:            cfg.Sync.UndoDepth,
	})

	rt.App.Start(ctx)

	token := cfg.Auth.Token
	if token == "" && cfg.Auth.DevUser != "" {
		if token, err = rt.Session.Issue(cfg.Auth.DevUser, devTokenTTL); err != nil {
			rt.Close()
			return nil, err
		}
	}

	if token != "" {
		if _, err := rt.Session.SignIn(token); err != nil {
			logger.Error("sign-in failed, running signed out", "error", err)
		}
	}

	return rt, nil
}

// Close stops the app and releases the databases.
func (rt *Runtime) Close() {
	if rt.App != nil {
		rt.App.Close()
	}

	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
}
