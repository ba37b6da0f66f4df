package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vindennt/gus-marketplace/internal/api"
	"github.com/vindennt/gus-marketplace/internal/auth"
	"github.com/vindennt/gus-marketplace/internal/config"
	"github.com/vindennt/gus-marketplace/internal/db"
	"github.com/vindennt/gus-marketplace/internal/storage"
	"github.com/vindennt/gus-marketplace/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the marketplace API server",
	Long: `Serves the listings API, the auth routes and the /ws/listings change feed.

LISTINGS_BACKEND picks where listings live:
  gateway   - the upstream marketplace backend at BACKEND_URL (default)
  postgrest - Supabase tables through PostgREST, images in Supabase Storage
  postgres  - a Postgres database at DATABASE_URL, images in Supabase Storage`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	authClient := auth.NewClient(cfg, logger)
	hub := ws.NewHub(
		ws.WithLogf(logger.Sugar().Infof),
		ws.WithOriginPatterns(wsOrigins(cfg.AllowedOrigins)),
	)

	mux := http.NewServeMux()
	authClient.RegisterRoutes(mux)
	hub.RegisterRoutes(mux)
	api.RegisterRoutes(mux, api.Deps{
		Config:    cfg,
		Store:     store,
		Auth:      authClient,
		Publisher: hub,
		Logger:    logger,
	})

	l, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return err
	}
	logger.Info("server listening",
		zap.String("addr", l.Addr().String()),
		zap.String("backend", cfg.ListingsBackend))

	// No write timeout: /ws/listings connections are long lived
	s := &http.Server{
		Handler:           api.Wrap(mux, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		// Hijacked websocket connections are not tracked by Shutdown
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore builds the configured listings backend. The returned func
// releases whatever it holds
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (db.Store, func(), error) {
	noop := func() {}

	switch cfg.ListingsBackend {
	case config.BackendGateway:
		return db.NewGateway(cfg.BackendURL, cfg.BackendAPIKey, logger), noop, nil

	case config.BackendPostgrest:
		bucket := storage.NewBucket(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseSecretKey)
		return db.NewPostgrest(cfg.SupabaseURL, cfg.SupabaseSecretKey, bucket, logger), noop, nil

	case config.BackendPostgres:
		bucket := storage.NewBucket(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseSecretKey)
		pg, err := db.OpenPostgres(ctx, cfg.DatabaseURL, bucket, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.CreateTable(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, func() {
			if err := pg.Close(); err != nil {
				logger.Warn("close database", zap.Error(err))
			}
		}, nil
	}

	return nil, nil, fmt.Errorf("unknown listings backend %q", cfg.ListingsBackend)
}

// wsOrigins turns CORS origins into websocket origin patterns, which match
// on host only. A wildcard disables the origin check
func wsOrigins(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
