package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/timetravel/backend/internal/handler"
	"github.com/zhouzirui/timetravel/backend/internal/service/engine"
	"github.com/zhouzirui/timetravel/backend/internal/service/session"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	catalog, sources, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return err
	}
	log.Info().Int("personas", len(catalog.List())).Int("sources", sources.Len()).
		Str("default", catalog.DefaultID()).Msg("catalog loaded")

	store, err := openSessionStore(ctx, cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "open session store")
	}
	log.Info().Str("backend", cfg.Storage.Backend).Msg("session store ready")

	writer := session.NewAsyncStore(session.NewService(store, catalog.DefaultID()), 0)
	eng := engine.New(catalog, sources, writer, newGateway(ctx, cfg.AI))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewRouter(catalog, eng, cfg.Server.BotToken),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// The writer outlives the HTTP server so saves from in-flight requests
	// are still queued and drained in order.
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWriter()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writer.Run(writerCtx)
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("TimeTravel backend listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		defer stopWriter()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close session store")
	}
	log.Info().Msg("shutdown complete")
	return runErr
}
