package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/AppIeBanana/ZhaoSheng/internal/cache"
	"github.com/AppIeBanana/ZhaoSheng/internal/config"
	"github.com/AppIeBanana/ZhaoSheng/internal/docstore"
	httpapi "github.com/AppIeBanana/ZhaoSheng/internal/http"
	"github.com/AppIeBanana/ZhaoSheng/internal/observability"
	"github.com/AppIeBanana/ZhaoSheng/internal/repo"
	"github.com/AppIeBanana/ZhaoSheng/internal/services"
	"github.com/AppIeBanana/ZhaoSheng/internal/session"
	"github.com/AppIeBanana/ZhaoSheng/internal/sysutil"
)

const shutdownGrace = 10 * time.Second

func newServeCmd(cfg *config.Config) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg.Port = sysutil.FirstNonEmpty(port, cfg.Port)
			return serve(ctx, *cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	return cmd
}

// durable is the opened system of record plus its teardown.
type durable struct {
	store services.DurableStore
	close func()
}

// openDurable opens the configured durable store and brings its schema or
// indexes up to date.
func openDurable(ctx context.Context, cfg config.DurableConfig) (durable, error) {
	switch cfg.Driver {
	case "mongo":
		ds, err := docstore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return durable{}, fmt.Errorf("open mongo: %w", err)
		}
		closeFn := func() {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ds.Close(cctx)
		}
		if err := ds.EnsureIndexes(ctx); err != nil {
			closeFn()
			return durable{}, fmt.Errorf("mongo indexes: %w", err)
		}
		return durable{store: ds, close: closeFn}, nil
	default:
		db, err := repo.OpenSQLite(cfg.Path)
		if err != nil {
			return durable{}, fmt.Errorf("open sqlite: %w", err)
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		if err := repo.AutoMigrate(db); err != nil {
			closeFn()
			return durable{}, fmt.Errorf("migrate: %w", err)
		}
		return durable{store: repo.NewStore(db), close: closeFn}, nil
	}
}

// storageConfig maps environment settings onto the service's tuning knobs.
func storageConfig(c config.StorageConfig) services.StorageConfig {
	return services.StorageConfig{
		ProfileTTL:      c.ProfileCacheTTL,
		TranscriptTTL:   c.TranscriptCacheTTL,
		CacheTimeout:    c.CacheTimeout,
		DurableTimeout:  c.DurableTimeout,
		WriteRetries:    c.WriteRetries,
		WriteRetryDelay: c.WriteRetryDelay,
		ReadAttempts:    c.ReadAttempts,
		ReadBackoff:     c.ReadBackoff,
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	gin.SetMode(cfg.GinMode)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	d, err := openDurable(ctx, cfg.Durable)
	if err != nil {
		return err
	}
	defer d.close()

	kv := cache.New(cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = kv.Close() }()

	svc := services.NewStorageService(d.store, kv, storageConfig(cfg.Storage))
	st := svc.Health(ctx)
	log.Info().
		Str("driver", cfg.Durable.Driver).
		Bool("cache_connected", st.CacheConnected).
		Bool("durable_connected", st.DurableConnected).
		Msg("storage ready")

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Storage:  svc,
		Sessions: session.NewBinding(kv, cfg.Storage.SessionTTL),
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(sctx)
}
