package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/MrJamesThe3rd/finnysync/internal/app"
	"github.com/MrJamesThe3rd/finnysync/internal/clock"
	"github.com/MrJamesThe3rd/finnysync/internal/config"
	"github.com/MrJamesThe3rd/finnysync/internal/export"
	finnyHttp "github.com/MrJamesThe3rd/finnysync/internal/http"
	actionsHandler "github.com/MrJamesThe3rd/finnysync/internal/http/actions"
	exportHandler "github.com/MrJamesThe3rd/finnysync/internal/http/export"
	importHandler "github.com/MrJamesThe3rd/finnysync/internal/http/importcsv"
	matchingHandler "github.com/MrJamesThe3rd/finnysync/internal/http/matching"
	syncHandler "github.com/MrJamesThe3rd/finnysync/internal/http/syncstatus"
	"github.com/MrJamesThe3rd/finnysync/internal/importer"
	"github.com/MrJamesThe3rd/finnysync/internal/matching"
	matchingStore "github.com/MrJamesThe3rd/finnysync/internal/matching/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Boot(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("failed to boot", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	matchingService := matching.NewService(matchingStore.New(rt.KV))
	importService := importer.NewService(rt.Store, clock.UUIDs{}.NewID, slog.Default()).
		WithSuggester(matchingService)

	var (
		actionsH  = actionsHandler.NewHandler(rt.Store)
		syncH     = syncHandler.NewHandler(rt.Sync, rt.Queue)
		importH   = importHandler.NewHandler(importService)
		exportH   = exportHandler.NewHandler(export.NewService(rt.Store))
		matchingH = matchingHandler.NewHandler(matchingService)
	)

	router := finnyHttp.New(actionsH, syncH, importH, exportH, matchingH, cfg.App.CORSOrigins)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	slog.Info("starting server", "port", srv.Addr, "remote", cfg.App.RemoteDSN != "")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	// Last chance to push pending writes.
	res := rt.Sync.FlushNow()
	slog.Info("server stopped", "sent", res.Sent, "pending", rt.Queue.Status().Size)
}
