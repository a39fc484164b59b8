package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/partflow/partflow"
	"github.com/partflow/partflow/config"
	partflowhttp "github.com/partflow/partflow/http"
	"github.com/partflow/partflow/keybackend"
)

var serveAutoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the partflow HTTP server.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 5808, "HTTP server port")
	serveCmd.Flags().BoolVar(&serveAutoMigrate, "auto-migrate", false, "run database migrations on startup")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	repo, closeDB, err := openRepo(ctx, cfg, serveAutoMigrate)
	if err != nil {
		return err
	}
	defer closeDB()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	coordinator, err := buildCoordinator(repo, store, cfg)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	var verifier partflowhttp.RequestVerifier
	var scopes partflowhttp.ScopeStore
	if cfg.Auth.Mode == "private" {
		secrets, err := keybackend.NewSecretStore(cfg.Auth.Keys)
		if err != nil {
			return fmt.Errorf("load access keys: %w", err)
		}
		verifier = partflow.NewSignatureVerifier(
			partflow.AuthConfig{Region: cfg.Auth.Region, Service: cfg.Auth.Service},
			secrets,
		)
		scopes = secrets
	}

	handlerConfig := partflowhttp.HandlerConfig{
		Verifier: verifier,
		Scopes:   scopes,
		CORS:     cfg.CORS,
	}
	handler := partflowhttp.NewHandler(&handlerConfig, coordinator)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  5 * time.Minute, // part bodies can be large
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "err", err)
		}
		cancel()
	}()

	slog.Info("starting server", "addr", addr, "auth", cfg.Auth.Mode, "storage", cfg.Storage.Type)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
