package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.io/infrasutra/mockinvoice/internal/api"
	"github.io/infrasutra/mockinvoice/internal/auth"
	"github.io/infrasutra/mockinvoice/internal/smtpserver"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when enabled, the SMTP intake",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	tokens, err := auth.New(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	if cfg.Auth.Secret == "" {
		logger.Warn("AUTH_SECRET not set; tokens reset on restart")
	}
	if !cfg.Auth.Enabled {
		logger.Warn("authentication disabled; invoice routes are open")
	}

	apiServer := api.NewServer(cfg, a.svc, tokens, a.users, a.hub, logger)
	defer apiServer.Close()

	var smtpSrv *smtpserver.Server
	if cfg.SMTP.Enabled {
		smtpAuthCfg := smtpserver.AuthConfig{
			Enabled:  cfg.SMTP.AuthEnabled,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		}
		if smtpAuthCfg.Enabled {
			logger.Info("smtp auth enabled", "username", smtpAuthCfg.Username)
		} else {
			logger.Warn("smtp auth disabled; intake accepts unauthenticated connections")
		}
		smtpAddr := fmt.Sprintf(":%d", cfg.SMTP.Port)
		smtpSrv = smtpserver.New(a.store, a.hub, logger, smtpAddr, smtpAuthCfg)
		go func() {
			if err := smtpSrv.ListenAndServe(); err != nil {
				logger.Error("smtp server stopped", "error", err)
			}
		}()
	}

	httpAddr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			"addr", httpAddr,
			"storage", a.svc.StorageKind(),
			"auth", cfg.Auth.Enabled,
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	var runErr error
	select {
	case sig := <-shutdown:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
	if smtpSrv != nil {
		if err := smtpSrv.Close(); err != nil {
			logger.Error("shutdown smtp", "error", err)
		}
	}
	return runErr
}
