package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/hasher"
	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/http"
	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/message_broker"
	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/sieve"
	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/store"
	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/websocket"
	"github.com/satriahrh/cocoa-fruit/primeworks/config"
	"github.com/satriahrh/cocoa-fruit/primeworks/domain"
	"github.com/satriahrh/cocoa-fruit/primeworks/usecase"
	"github.com/satriahrh/cocoa-fruit/primeworks/utils/log"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Long: `Starts the prime generation API. Configuration is read from the
environment and an optional .env file.

Example:
  primeworks serve
  PORT=9090 PRIMES_MAX_BOUND=50000000 primeworks serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Debug {
		if l, err := zap.NewDevelopment(); err == nil {
			log.SetLogger(l)
		}
	}

	if names := cfg.DefaultCredentials(); len(names) > 0 {
		log.With(zap.Strings("variables", names)).Warn("⚠️ Built-in credentials in use, set them before exposing the server")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var jobs domain.JobStore = store.Nop{}
	if cfg.DBPath != "" {
		sqlite, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return err
		}
		jobs = sqlite
	}
	defer jobs.Close()

	broker := message_broker.NewChannelMessageBroker()
	defer broker.Close()

	sha := hasher.New()
	primes := usecase.NewPrimeService(
		sieve.New(sieve.Config{MaxBound: cfg.MaxBound, DefaultChunkSize: cfg.ChunkSize}),
		sha, broker, jobs,
		usecase.PrimeServiceConfig{
			MaxConcurrent: cfg.MaxConcurrent,
			MemoryBudget:  cfg.MemoryBudget,
			JobTimeout:    cfg.JobTimeout,
			Retention:     cfg.Retention,
		},
	)
	hashes := usecase.NewHashService(sha)
	auth := http.NewAuthenticator(cfg.JWTSecret, cfg.JWTExpiry, cfg.APIKey, cfg.APISecret)
	ws := websocket.NewServer(primes, broker)

	e := newEcho(cfg, auth, http.NewPrimeHandler(primes, hashes), ws)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ws.Run(gctx)
	})
	g.Go(func() error {
		return primes.Run(gctx)
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Port)
		log.With(zap.String("addr", addr), zap.Int("max_bound", cfg.MaxBound), zap.Int("max_concurrent", cfg.MaxConcurrent)).
			Info("🚀 Starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.With(zap.Duration("timeout", shutdownTimeout)).Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return multierr.Append(e.Shutdown(shutdownCtx), primes.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

func newEcho(cfg config.Config, auth *http.Authenticator, h *http.PrimeHandler, ws *websocket.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(http.RequestLogContext)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.DELETE, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"X-API-Key",
			"X-API-Secret",
			"X-Client-ID",
		},
		ExposeHeaders: []string{echo.HeaderLocation},
		MaxAge:        86400,
	}))
	e.Use(middleware.BodyLimit("64KB"))

	wsGroup := e.Group("/ws")
	wsGroup.Use(auth.Middleware)
	wsGroup.GET("", ws.Handler)

	api := e.Group("/api/v1")
	api.GET("/health", h.HealthCheck)
	api.POST("/auth/token", auth.IssueToken)
	h.Register(api.Group("", auth.Middleware), cfg.MaxConcurrent)

	return e
}
