package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/majid78715/Jira-V1-sub001/internal/adapters/http"
	"github.com/majid78715/Jira-V1-sub001/internal/collab"
	"github.com/majid78715/Jira-V1-sub001/internal/config"
	"github.com/majid78715/Jira-V1-sub001/internal/hub"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "release" {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	// In-memory collaboration backends; swap for the workspace services in a
	// full deployment.
	membership := collab.NewMemoryMembership()
	activity := collab.LogActivity{}
	notifier := collab.LogNotifier{}
	attachments := collab.NewMemoryAttachments()

	h := hub.New(membership, activity, notifier, attachments)

	r := router.SetupRouter(ctx, cfg, h)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signal server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	h.Stop()
	log.Info().Msg("Server exited gracefully")
}
