package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mythcraft/api/internal/app/stack"
	"github.com/mythcraft/api/internal/config"
	authsvc "github.com/mythcraft/api/internal/services/auth"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	stack      *stack.Stack
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	st, err := stack.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var jwtManager *authsvc.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager = authsvc.NewJWTManager(cfg.Auth.JWTSecret, 0)
	} else {
		log.Warn("AUTH_JWT_SECRET is empty, moderation endpoints accept unauthenticated requests")
	}

	RegisterRoutes(r, Dependencies{
		Stack:      st,
		JWTManager: jwtManager,
		Logger:     log,
		Config:     cfg,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		stack:      st,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if err := a.stack.Close(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
