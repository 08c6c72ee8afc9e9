package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/spotit-go/internal/api/middleware"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/logger"
)

const (
	shutdownTimeout = 10 * time.Second
	bodyLimit       = "1M"
)

// Server hosts the API on its own echo instance
type Server struct {
	Echo       *echo.Echo
	Controller *Controller
	listen     string
}

// NewServer builds the echo instance, middleware and routes. observer may be nil.
func NewServer(listen string, p Pipeline, observer middleware.RequestObserver, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit(bodyLimit))
	e.Use(middleware.NewRequestLogger(GetLogger(), observer))

	return &Server{
		Echo:       e,
		Controller: NewController(e, p, opts...),
		listen:     listen,
	}
}

// Run listens on the configured address and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("listen", s.listen).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := GetLogger()
	s.Echo.Listener = ln

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", logger.String("address", ln.Addr().String()))
		errCh <- s.Echo.Start("")
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).Component("api").Category(errors.CategoryNetwork).Build()
	case <-ctx.Done():
	}

	log.Info("stopping API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		log.Error("API server shutdown error", logger.Error(err))
		return err
	}
	<-errCh
	return nil
}
