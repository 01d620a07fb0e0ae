// Package app wires the listings runtime and HTTP lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/beholdlabs/listings/internal/market/api/httpapi"
	"github.com/beholdlabs/listings/internal/market/clients"
	"github.com/beholdlabs/listings/internal/market/engine"
	"github.com/beholdlabs/listings/internal/market/ledger"
	"github.com/beholdlabs/listings/internal/market/storage/sqlite"
)

const shutdownTimeout = 5 * time.Second

// Server hosts the listings HTTP API and storage lifecycle.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
}

// New creates a configured listings server listening on the provided port.
func New(port int, dep Deployment) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port), dep)
}

// NewWithAddr creates a configured listings server for the provided address.
func NewWithAddr(addr string, dep Deployment) (*Server, error) {
	if err := dep.validate(); err != nil {
		return nil, err
	}

	env := loadServerEnv()
	key, err := decodeAuthKey(env.AuthKey)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	store, err := openMarketStore(env.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	// Seeding is a no-op when the store already carries roles.
	seed := ledger.Roles{Owner: dep.Roles.Owner, ItemOwner: dep.Roles.ItemOwner}
	if err := store.SeedRoles(context.Background(), seed); err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("seed roles: %w", err)
	}

	registry, err := clients.NewRegistryClient(dep.Registry.Endpoint)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	payments, err := clients.NewPayoutClient(dep.Payout.Endpoint)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	verifier, err := httpapi.NewVerifier(key)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	eng := engine.New(store, registry, payments)
	router := httpapi.NewRouter(eng, verifier, dep.Purchases.PerSecond, dep.Purchases.Burst)

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           otelhttp.NewHandler(router, "listings"),
			ReadHeaderTimeout: 10 * time.Second,
		},
		store: store,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a listings server until context cancellation.
func Run(ctx context.Context, port int, dep Deployment) error {
	server, err := New(port, dep)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the HTTP server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("listings server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// Close releases listings server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close market store: %v", err)
		}
	}
}

func openMarketStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open market sqlite store: %w", err)
	}
	return store, nil
}
