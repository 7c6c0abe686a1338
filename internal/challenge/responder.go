package challenge

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Responder is a standalone plain-HTTP server that answers acme-challenge
// requests straight from the webroot, for operators who do not already run
// a webserver for the domains being validated. It serves the same files
// the WebrootPublisher writes.
type Responder struct {
	e       *echo.Echo
	webroot string
	addr    string
	log     *zap.Logger
}

// NewResponder builds a responder listening on addr and serving from
// webroot. A nil logger is replaced with a no-op logger.
func NewResponder(addr, webroot string, log *zap.Logger) *Responder {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Responder{webroot: webroot, addr: addr, log: log}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))

	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "certforge responder is running")
	})
	e.GET(wellKnownPath+":token", r.handleToken)

	r.e = e
	return r
}

// Handler exposes the responder as an http.Handler.
func (r *Responder) Handler() http.Handler {
	return r.e
}

// Start serves until the listener fails or Shutdown is called.
func (r *Responder) Start() error {
	r.log.Info("challenge responder listening", zap.String("address", r.addr))
	return r.e.Start(r.addr)
}

// Shutdown stops the responder gracefully.
func (r *Responder) Shutdown(ctx context.Context) error {
	return r.e.Shutdown(ctx)
}

func (r *Responder) handleToken(c echo.Context) error {
	token := c.Param("token")
	if token == "" || token != filepath.Base(token) {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	data, err := os.ReadFile(filepath.Join(tokenDir(r.webroot), token))
	if err != nil {
		r.log.Debug("challenge token not found", zap.String("token", token))
		return echo.NewHTTPError(http.StatusNotFound)
	}

	r.log.Info("served challenge response",
		zap.String("token", token),
		zap.String("remote", c.RealIP()))
	return c.Blob(http.StatusOK, "text/plain", data)
}
