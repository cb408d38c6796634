package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/liut/parley/pkg/services/chat"
	"github.com/liut/parley/pkg/services/stores"
)

type Service interface {
	Serve(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Config struct {
	Addr  string
	Debug bool

	DocHandler http.Handler

	Chat     *chat.Orchestrator
	Sessions *stores.Sessions
	Preset   stores.Preset

	CookieName string
	CookiePath string
	MaxUpload  int64 // bytes of one chat request

	RateLimit string        // e.g. "30-M", empty disables
	Redis     *redis.Client // optional limiter store
}

type server struct {
	Addr string
	cfg  Config

	ar *chi.Mux     // app router
	hs *http.Server // http server

	oc   *chat.Orchestrator
	sess *stores.Sessions

	limit func(http.Handler) http.Handler
}

// New return new web server
func New(cfg Config) (Service, error) {
	return newServer(cfg)
}

func newServer(cfg Config) (*server, error) {
	ar := chi.NewMux()
	if cfg.Debug {
		ar.Use(middleware.Logger)
	}
	ar.Use(middleware.Recoverer, middleware.RealIP)

	if len(cfg.CookieName) == 0 {
		cfg.CookieName = "parley_sid"
	}
	if len(cfg.CookiePath) == 0 {
		cfg.CookiePath = "/"
	}
	if cfg.Sessions == nil {
		cfg.Sessions = stores.NewSessions(0)
	}

	s := &server{
		Addr: cfg.Addr, ar: ar,
		cfg:  cfg,
		oc:   cfg.Chat,
		sess: cfg.Sessions,
	}

	limit, err := newLimiter(cfg.RateLimit, cfg.Redis)
	if err != nil {
		return nil, err
	}
	s.limit = limit

	s.strapRouter()

	s.hs = &http.Server{
		Addr:              s.Addr,
		Handler:           s.ar,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Debug {
		logger().Infow("routes:")
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			route = strings.Replace(route, "/*/", "/", -1)
			fmt.Fprintf(os.Stderr, "DEBUG: %-6s %-24s --> %s (%d mw)\n", method, route, nameOfFunction(handler), len(middlewares))
			return nil
		}

		if err := chi.Walk(ar, walkFunc); err != nil {
			logger().Infow("router walk fail", "err", err)
		}
	}
	return s, nil
}

func (s *server) Serve(ctx context.Context) error {
	// Run HTTP server
	runErrChan := make(chan error)
	t := time.AfterFunc(time.Millisecond*200, func() {
		runErrChan <- s.hs.ListenAndServe()
	})

	defer t.Stop()
	logger().Infow("Listen on", "addr", s.hs.Addr)

	// Wait
	for {
		select {
		case runErr := <-runErrChan:
			if runErr != nil && runErr != http.ErrServerClosed {
				logger().Infow("run http server failed",
					"err", runErr,
				)
				return runErr
			}
			return nil
		case <-ctx.Done():
			logger().Info("http server has been stopped")
			return ctx.Err()
		}
	}
}

func (s *server) Stop(ctx context.Context) error {
	if err := s.hs.Shutdown(ctx); err != nil {
		logger().Infow("Server Shutdown", "err", err)
		return err
	}
	return nil
}
