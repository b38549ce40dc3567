package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/auth"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/cache"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/config"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/database"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/gallery"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/homework"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/localstore"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/logging"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/pending"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/reconcile"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const remoteTimeout = 15 * time.Second

var errNotLoggedIn = errors.New("not logged in: run `classnotes login` first")

func localMigrations() []database.Migration {
	return []database.Migration{{
		Name: "2025-09-01_normalize_pending_kinds",
		Apply: func(db *gorm.DB) error {
			storage, err := localstore.NewSQLiteStorage(localstore.SQLiteStorageConfig{Database: db})
			if err != nil {
				return err
			}
			return pending.NormalizeStoredKinds(storage)
		},
	}}
}

func openLocalDatabase(path string, logger *zap.Logger) (*gorm.DB, error) {
	return database.OpenSQLite(database.Options{
		Path:       path,
		Logger:     logger,
		Models:     []any{&localstore.Item{}},
		Migrations: localMigrations(),
	})
}

type tokenHolder struct {
	mu    sync.RWMutex
	value string
}

func (h *tokenHolder) Get() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value
}

func (h *tokenHolder) Set(value string) {
	h.mu.Lock()
	h.value = value
	h.mu.Unlock()
}

// clientApp is the local-first portal: local state in sqlite, the hosted store over HTTP.
type clientApp struct {
	config      config.ClientConfig
	logger      *zap.Logger
	db          *gorm.DB
	storage     *localstore.SQLiteStorage
	credentials *auth.CredentialStore
	cache       *cache.Cache
	queue       *pending.Queue
	token       *tokenHolder
	login       *auth.Client
	remote      *kvstore.HTTPStore
	homework    *homework.Service
	gallery     *gallery.Service
	reconciler  *reconcile.Reconciler
	// lastSync is the pass run right after the latest successful remote login.
	lastSync *reconcile.Report
}

func openClient() (*clientApp, error) {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewConsoleLogger(clientConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	app := &clientApp{config: clientConfig, logger: logger, token: &tokenHolder{}}
	if err := app.wire(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *clientApp) wire() error {
	db, err := openLocalDatabase(a.config.LocalPath, a.logger)
	if err != nil {
		return err
	}
	a.db = db

	a.storage, err = localstore.NewSQLiteStorage(localstore.SQLiteStorageConfig{Database: db, Logger: a.logger})
	if err != nil {
		return err
	}
	a.credentials = auth.NewCredentialStore(a.storage)
	a.cache = cache.New(a.storage, a.logger)

	a.queue, err = pending.NewQueue(pending.QueueConfig{
		Storage:    a.storage,
		IDProvider: pending.NewUUIDProvider(),
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}
	if err := a.queue.Load(); err != nil {
		return err
	}

	a.login, err = auth.NewClient(a.config.RemoteURL, remoteTimeout)
	if err != nil {
		return err
	}
	a.remote, err = kvstore.NewHTTPStore(kvstore.HTTPStoreConfig{
		BaseURL: a.config.RemoteURL,
		Token:   a.token.Get,
		Timeout: remoteTimeout,
		Logger:  a.logger,
	})
	if err != nil {
		return err
	}

	a.homework, err = homework.NewService(homework.ServiceConfig{
		Store:  a.remote,
		Cache:  a.cache,
		Queue:  a.queue,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	a.gallery, err = gallery.NewService(gallery.ServiceConfig{
		Store:  a.remote,
		Cache:  a.cache,
		Queue:  a.queue,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	a.reconciler, err = reconcile.New(reconcile.Config{
		Store:       a.remote,
		Queue:       a.queue,
		Logger:      a.logger,
		MaxAttempts: a.config.SyncMaxAttempts,
	})
	return err
}

// Close releases the local database and flushes logs.
func (a *clientApp) Close() {
	if a.db != nil {
		closeDatabase(a.db)
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// signIn logs in remotely, remembers the credentials, the token and the session, and
// replays the pending queue against the store.
func (a *clientApp) signIn(ctx context.Context, request auth.LoginRequest) (*auth.Session, error) {
	response, err := a.login.Login(ctx, request)
	if err != nil {
		return nil, err
	}
	a.token.Set(response.AccessToken)
	credentials := auth.Credentials{
		Key:   response.Session.Key,
		Class: request.Class,
		Role:  request.Role,
		Token: response.AccessToken,
	}
	if err := a.credentials.Save(credentials); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}
	if err := a.credentials.SaveSession(response.Session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	a.syncAfterLogin(ctx)
	session := response.Session
	return &session, nil
}

func (a *clientApp) syncAfterLogin(ctx context.Context) {
	report, err := a.reconciler.SyncPendingChanges(ctx)
	if err != nil {
		a.logger.Warn("pending changes not reconciled after login", zap.Error(err))
	}
	a.lastSync = &report
}

// syncReport returns the pass run at login, or runs one now.
func (a *clientApp) syncReport(ctx context.Context) (reconcile.Report, error) {
	if a.lastSync != nil {
		return *a.lastSync, nil
	}
	return a.reconciler.SyncPendingChanges(ctx)
}

// session re-logs in with the saved credentials. When the store is unreachable the
// remembered session is used so offline edits still land in the cache and the queue.
func (a *clientApp) session(ctx context.Context) (*auth.Session, error) {
	credentials, err := a.credentials.Load()
	if err != nil {
		return nil, err
	}
	if !credentials.Complete() {
		return nil, errNotLoggedIn
	}

	session, err := a.signIn(ctx, credentials.Request())
	if err == nil {
		return session, nil
	}
	if !kvstore.IsUnavailable(err) {
		return nil, err
	}

	saved, loadErr := a.credentials.LoadSession()
	if loadErr != nil {
		return nil, loadErr
	}
	if saved == nil {
		return nil, err
	}
	saved.Key = credentials.Key
	a.token.Set(credentials.Token)
	a.logger.Warn("store unreachable, working offline with the saved session",
		zap.String("class", saved.EffectiveClass()),
		zap.Error(err))
	return saved, nil
}

// withClient opens the client, runs fn and closes it again.
func withClient(fn func(app *clientApp) error) error {
	app, err := openClient()
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

// withSession is withClient plus a resolved session.
func withSession(ctx context.Context, fn func(app *clientApp, session *auth.Session) error) error {
	return withClient(func(app *clientApp) error {
		session, err := app.session(ctx)
		if err != nil {
			return err
		}
		return fn(app, session)
	})
}
