// Package httpserver is the caller-facing gateway: health and metrics
// endpoints plus the per-call control websocket.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ansh-stack00/svaraAI/internal/logging"
)

// Server bundles the router and the gateway it serves.
type Server struct {
	Echo    *echo.Echo
	gateway *Gateway
}

// New constructs the echo router with health, metrics and control routes.
// A nil gatherer serves the default prometheus registry.
func New(deps Deps, gatherer prometheus.Gatherer) *Server {
	log := logging.OrNop(deps.Logger)
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	gw := NewGateway(deps)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.GET("/", gw.Serve)
	e.GET("/ws", gw.Serve)

	return &Server{Echo: e, gateway: gw}
}

// Sessions reports the number of live calls.
func (s *Server) Sessions() int { return s.gateway.Active() }

// Shutdown ends every live call and waits for their teardown, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.gateway.Close()
	done := make(chan struct{})
	go func() {
		s.gateway.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const (
	lookupTimeout = 10 * time.Second
	writeTimeout  = 5 * time.Second
)
