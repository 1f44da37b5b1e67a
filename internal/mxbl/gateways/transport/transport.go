// Package transport serves the mxbl operator and event API over HTTP.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/haukened/mxbl/internal/mxbl/common/log"
	"github.com/haukened/mxbl/internal/mxbl/services/admin"
)

const shutdownTimeout = 5 * time.Second

// HTTPTransport serves the API on one TCP address.
type HTTPTransport struct {
	addr   string
	echo   *echo.Echo
	logger log.Logger

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	running  bool
}

// NewHTTPTransport wires the routes for svc. Nothing listens until Start.
func NewHTTPTransport(addr string, svc *admin.Service, logger log.Logger) *HTTPTransport {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := map[string]any{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
			}
			if v.Error != nil {
				fields["error"] = v.Error
			}
			logger.Debug(fields, "request")
			return nil
		},
	}))

	h := &handlers{svc: svc, logger: logger}
	h.register(e)

	return &HTTPTransport{addr: addr, echo: e, logger: logger}
}

// Handler exposes the router, mainly for tests.
func (t *HTTPTransport) Handler() http.Handler {
	return t.echo
}

// Start binds the address and serves in the background until Stop is called
// or ctx is cancelled.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("HTTP transport already running")
	}
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.addr, err)
	}
	t.listener = ln
	t.server = &http.Server{Handler: t.echo, ReadHeaderTimeout: 10 * time.Second}
	t.running = true

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error(map[string]any{"error": err}, "HTTP server failed")
		}
	}(t.server)
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()

	t.logger.Info(map[string]any{"transport": "http", "address": ln.Addr().String()}, "HTTP transport started")
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (t *HTTPTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := t.server.Shutdown(ctx)
	t.running = false

	t.logger.Info(map[string]any{"transport": "http", "address": t.listener.Addr().String()}, "HTTP transport stopped")
	return err
}

// Address returns the bound address once started, else the configured one.
func (t *HTTPTransport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}
