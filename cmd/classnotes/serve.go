package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/auth"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/config"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/database"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/logging"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenIssuer     = "classnotes-auth"
	tokenAudience   = "classnotes-store"
	shutdownTimeout = 10 * time.Second
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hosted key/value store with key login",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// openStoreDatabase opens the sqlite file behind the hosted store.
func openStoreDatabase(path string, logger *zap.Logger) (*gorm.DB, *kvstore.SQLStore, error) {
	db, err := database.OpenSQLite(database.Options{
		Path:   path,
		Logger: logger,
		Models: []any{&kvstore.Document{}},
	})
	if err != nil {
		return nil, nil, err
	}
	store, err := kvstore.NewSQLStore(kvstore.SQLStoreConfig{Database: db, Logger: logger})
	if err != nil {
		closeDatabase(db)
		return nil, nil, err
	}
	return db, store, nil
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.LoadServer(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, store, err := openStoreDatabase(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	authenticator, err := auth.NewAuthenticator(auth.AuthenticatorConfig{Store: store, Logger: logger})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Authenticator:  authenticator,
		TokenManager:   tokenManager,
		Store:          store,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server stopping")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
