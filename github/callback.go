package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/creastat/console/logging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// CallbackPath is where GitHub redirects after authorization.
const CallbackPath = "/github/callback"

// Completer receives the authorization redirect.
type Completer interface {
	Complete(state, code string, err error) error
}

// CallbackServer serves the OAuth redirect on a local address.
type CallbackServer struct {
	echo      *echo.Echo
	addr      string
	completer Completer
	logger    *logging.Logger
}

// NewCallbackServer creates a callback server bound to addr.
func NewCallbackServer(addr string, completer Completer, logger *logging.Logger) *CallbackServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &CallbackServer{
		echo:      e,
		addr:      addr,
		completer: completer,
		logger:    logging.OrNop(logger).Named("github.callback"),
	}
	e.GET(CallbackPath, s.handleCallback)
	return s
}

// Handler exposes the routes for embedding or testing.
func (s *CallbackServer) Handler() http.Handler {
	return s.echo
}

// Start listens until Shutdown is called.
func (s *CallbackServer) Start() error {
	s.logger.Info(context.Background(), "starting oauth callback server", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server.
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *CallbackServer) handleCallback(c echo.Context) error {
	state := c.QueryParam("state")
	code := c.QueryParam("code")

	var authErr error
	if e := c.QueryParam("error"); e != "" {
		authErr = fmt.Errorf("%s: %s", e, c.QueryParam("error_description"))
	}

	ctx := c.Request().Context()
	if err := s.completer.Complete(state, code, authErr); err != nil {
		s.logger.Warn(ctx, "rejected oauth callback", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "This authorization link is no longer valid.")
	}
	if authErr != nil {
		return c.String(http.StatusOK, "GitHub authorization was not completed. You can close this window.")
	}
	return c.String(http.StatusOK, "GitHub connected. You can close this window.")
}
