package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deals/internal/api"
	"github.com/sells-group/deals/internal/config"
	"github.com/sells-group/deals/internal/ratelimit"
)

const (
	redisKeyPrefix  = "deals:ratelimit:"
	shutdownTimeout = 10 * time.Second
)

var (
	servePort    int
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Start the deals HTTP API",
	Annotations: map[string]string{modeAnnotation: "serve"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		return runServe(ctx, cfg, port, serveMigrate)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply schema migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

// serveEnv holds what the HTTP API needs and releases it on Close.
type serveEnv struct {
	Handler http.Handler
	closers []func() error
}

// Close releases the store and the limiter backend.
func (e *serveEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// buildServeEnv opens the store and rate limiter and builds the router.
func buildServeEnv(ctx context.Context, c *config.Config, migrate bool) (*serveEnv, error) {
	env := &serveEnv{}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, st.Close)

	if migrate {
		if err := st.Migrate(ctx); err != nil {
			env.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
	}

	limiter, closeLimiter, err := buildLimiter(ctx, c.RateLimit)
	if err != nil {
		env.Close()
		return nil, err
	}
	if closeLimiter != nil {
		env.closers = append(env.closers, closeLimiter)
	}

	env.Handler = api.NewServer(st, api.WithLimiter(limiter)).Handler()
	return env, nil
}

// buildLimiter creates the /api limiter on the configured counter backend.
// The returned close func is nil for the memory backend.
func buildLimiter(ctx context.Context, c config.RateLimitConfig) (*ratelimit.Limiter, func() error, error) {
	policy := ratelimit.Config{Window: c.Window, Max: c.Max}

	switch c.Backend {
	case "", "memory":
		return ratelimit.New(ratelimit.NewMemoryStore(), policy), nil, nil
	case "redis":
		rs, err := ratelimit.NewRedisStoreFromURL(ctx, c.RedisURL, redisKeyPrefix)
		if err != nil {
			return nil, nil, eris.Wrap(err, "init redis rate limit store")
		}
		return ratelimit.New(rs, policy), rs.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported rate limit backend: %s", c.Backend)
	}
}

func runServe(ctx context.Context, c *config.Config, port int, migrate bool) error {
	env, err := buildServeEnv(ctx, c, migrate)
	if err != nil {
		return err
	}
	defer env.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           env.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server",
		zap.Int("port", port),
		zap.String("store", c.Store.Driver),
		zap.String("ratelimit_backend", c.RateLimit.Backend),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}

	return nil
}
