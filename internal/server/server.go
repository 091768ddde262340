package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/validation"
	"github.com/conneroisu/modserve/internal/version"
)

// Config configures a Server.
type Config struct {
	// Addr is the host:port to listen on.
	Addr    string
	Handler http.Handler
	// Hub is run for the lifetime of the server when set.
	Hub *LiveReloadHub
	// Open launches the system browser once listening.
	Open   bool
	Logger logging.Logger
}

// Server runs the HTTP listener around a dispatch handler.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     logging.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// New creates a server. Nothing listens until Start.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	handler := cfg.Handler

	s := &Server{
		config: cfg,
		logger: logger.WithComponent("server"),
		ready:  make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Addr: cfg.Addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			handler.ServeHTTP(w, r)
		}),
		// No write timeout: event streams stay open for minutes.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	return s
}

// Start listens and serves until the server is shut down. It returns nil
// after a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	if s.config.Hub != nil {
		hubCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go s.config.Hub.Run(hubCtx)
	}

	s.logger.Info(ctx, "Server listening", "addr", ln.Addr().String(), "version", version.GetVersion())

	if s.config.Open {
		go s.openBrowser(browserURL(ln.Addr()))
	}

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Addr returns the bound listener address, waiting until Start has
// bound it or ctx is done.
func (s *Server) Addr(ctx context.Context) (string, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listener.Addr().String(), nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	return nil
}

// browserURL turns a wildcard listen address into one a browser can open.
func browserURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = "localhost"
	}

	return "http://" + net.JoinHostPort(host, port)
}

func (s *Server) openBrowser(url string) {
	time.Sleep(100 * time.Millisecond) // Give server time to start

	if err := validation.ValidateURL(url); err != nil {
		s.logger.Warn(context.Background(), err, "Browser open failed due to invalid URL")
		return
	}

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform")
	}

	if err != nil {
		s.logger.Warn(context.Background(), err, "Failed to open browser", "url", url)
	}
}
