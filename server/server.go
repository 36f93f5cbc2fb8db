// Package server exposes the simulation API over HTTP, on a tcp port and
// optionally on a unix domain socket.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/forksim/forksim/simulation"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	shutdownTimeout = 10 * time.Second
	limiterCapacity = 4096
)

// Backend is the simulation surface served over HTTP.
type Backend interface {
	Simulate(ctx context.Context, tx *simulation.SimulationRequest) (*simulation.SimulationResponse, error)
	SimulateBundle(ctx context.Context, txs []*simulation.SimulationRequest) ([]*simulation.SimulationResponse, error)
	StatefulBegin(ctx context.Context, req *simulation.StatefulSimulationRequest) (*simulation.StatefulSimulationResponse, error)
	StatefulContinue(ctx context.Context, id uuid.UUID, txs []*simulation.SimulationRequest) ([]*simulation.SimulationResponse, error)
	StatefulEnd(ctx context.Context, id uuid.UUID) (*simulation.StatefulSimulationEndResponse, error)
}

// Server routes requests to a Backend.
type Server struct {
	cfg     Config
	backend Backend
	limiter *ipRateLimiter
	tracer  trace.Tracer
	handler http.Handler
	log     log.Logger
}

// New creates a server. Nothing is bound until Serve is called.
func New(cfg Config, backend Backend) *Server {
	s := &Server{
		cfg:     cfg,
		backend: backend,
		tracer:  otel.Tracer("github.com/forksim/forksim/server"),
		log:     log.New("module", "server"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = newIPRateLimiter(rate.Limit(cfg.RateLimit), burst, limiterCapacity)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	router := httprouter.New()
	router.POST("/api/v1/simulate", s.simulate)
	router.POST("/api/v1/simulate-bundle", s.simulateBundle)
	router.POST("/api/v1/simulate-stateful", s.statefulBegin)
	router.POST("/api/v1/simulate-stateful/:id", s.statefulContinue)
	router.DELETE("/api/v1/simulate-stateful/:id", s.statefulEnd)

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	router.PanicHandler = s.recovered

	var handler http.Handler = router
	handler = s.guard(handler)
	handler = s.traced(handler)
	if len(s.cfg.CorsOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: s.cfg.CorsOrigins,
			AllowedMethods: []string{http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"*"},
			MaxAge:         600,
		}).Handler(handler)
	}
	return s.logged(handler)
}

// Handler returns the http handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve listens on the configured tcp address and unix socket until ctx is
// cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	var listeners []net.Listener
	tcp, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	listeners = append(listeners, tcp)
	s.log.Info("HTTP server started", "endpoint", tcp.Addr())

	if path := s.cfg.UDSPath; path != "" {
		if err := removeSocket(path); err != nil {
			tcp.Close()
			return err
		}
		uds, err := net.Listen("unix", path)
		if err != nil {
			tcp.Close()
			return err
		}
		defer func() {
			if err := removeSocket(path); err != nil {
				s.log.Warn("Failed to remove unix socket", "path", path, "err", err)
			}
		}()
		listeners = append(listeners, uds)
		s.log.Info("IPC endpoint opened", "path", path)
	}

	g, gctx := errgroup.WithContext(ctx)
	servers := make([]*http.Server, 0, len(listeners))
	for _, l := range listeners {
		srv := &http.Server{
			Handler:           s.handler,
			ReadTimeout:       s.cfg.ReadTimeout,
			ReadHeaderTimeout: s.cfg.ReadTimeout,
			WriteTimeout:      s.cfg.WriteTimeout,
		}
		servers = append(servers, srv)
		g.Go(func() error {
			if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.log.Warn("HTTP server shutdown incomplete", "err", err)
				srv.Close()
			}
		}
		return nil
	})
	err = g.Wait()
	s.log.Info("HTTP server stopped")
	return err
}

// removeSocket deletes a stale socket file left behind by an unclean exit.
func removeSocket(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
