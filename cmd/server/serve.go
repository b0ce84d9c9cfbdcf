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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Conference/internal/adapters/ffmpeg"
	router "github.com/dkeye/Conference/internal/adapters/http"
	"github.com/dkeye/Conference/internal/adapters/rtc"
	"github.com/dkeye/Conference/internal/adapters/storage"
	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/app/recording"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/core"
)

const shutdownTimeout = 15 * time.Second

// setupLogger configures the global logger early so config.Load can use it.
func setupLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func applyLogConfig(cfg *config.Config) {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
	// JSON lines outside debug mode.
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// watchEngine returns an error once the engine reports its death. Every room
// depends on the engine, so the caller shuts the server down.
func watchEngine(ctx context.Context, engine core.Engine) error {
	select {
	case err := <-engine.Died():
		log.Error().Err(err).Msg("media engine died")
		return fmt.Errorf("media engine died: %w", err)
	case <-ctx.Done():
		return nil
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogConfig(cfg)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := rtc.NewEngine(ctx, rtc.OptionsFromConfig(cfg.Media))
	if err != nil {
		return fmt.Errorf("media engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	store, err := storage.New(ctx, cfg.Recording)
	if err != nil {
		return err
	}
	rec := recording.NewRecorder(engine, ffmpeg.NewLauncher(cfg.Recording.FFmpegPath), cfg.Recording.Dir, cfg.Recording.StopTimeout)
	policy, err := app.NewPolicy(cfg.Signal.Backpressure)
	if err != nil {
		return err
	}
	o := orch.New(app.NewRegistry(ctx), engine, rec, store, policy, cfg.MainVideo)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, o),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Conference server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return watchEngine(gctx, engine) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		o.Shutdown(shutdownCtx)
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Server exited")
	return err
}
