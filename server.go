package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
)

const (
	msgMissingCode   = "Authorization code not found."
	msgNotAuthorized = "Authentication failed."
	msgNotFound      = "Not found."
	msgBadGateway    = "Bad gateway."
)

// Gateway authenticates a user with one identity provider and applies that
// provider's authorization policy.
type Gateway interface {
	Name() string
	AuthorizeURL() string
	Authorize(ctx context.Context, code string) (*Identity, error)
}

// NewGateway builds the gateway for cfg.Provider.
func NewGateway(cfg *Config, h *http.Client, logger *slog.Logger) (Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no config provided")
	}

	switch cfg.Provider {
	case ProviderDiscord:
		return NewDiscordGateway(DiscordGatewayArgs{H: h, Config: cfg, Logger: logger})
	case ProviderMicrosoft:
		return NewMicrosoftGateway(MicrosoftGatewayArgs{H: h, Config: cfg, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

type Server struct {
	gw                 Gateway
	successRedirectUrl string
	logger             *slog.Logger
}

type ServerArgs struct {
	Gateway            Gateway
	SuccessRedirectUrl string
	Logger             *slog.Logger
}

func NewServer(args ServerArgs) (*Server, error) {
	if args.Gateway == nil {
		return nil, fmt.Errorf("no gateway provided")
	}

	if args.SuccessRedirectUrl == "" {
		return nil, fmt.Errorf("no success redirect url provided")
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	return &Server{
		gw:                 args.Gateway,
		successRedirectUrl: args.SuccessRedirectUrl,
		logger:             args.Logger,
	}, nil
}

// Echo returns an echo instance serving the gateway routes.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())

	s.Register(e)

	return e
}

func (s *Server) Register(e *echo.Echo) {
	e.Any("/", s.handleAuthorize)
	e.Any("/redirect", s.handleRedirect)
	e.RouteNotFound("/*", s.handleNotFound)
}

func (s *Server) handleAuthorize(e echo.Context) error {
	return e.Redirect(http.StatusFound, s.gw.AuthorizeURL())
}

func (s *Server) handleRedirect(e echo.Context) error {
	code := e.QueryParam("code")
	if code == "" {
		return e.String(http.StatusBadRequest, msgMissingCode)
	}

	identity, err := s.gw.Authorize(e.Request().Context(), code)
	if err != nil {
		var perr *ProviderError
		switch {
		case errors.Is(err, ErrMissingCode):
			return e.String(http.StatusBadRequest, msgMissingCode)
		case errors.As(err, &perr):
			s.logger.Warn("provider rejected request", "provider", s.gw.Name(), "stage", perr.Stage, "code", perr.Code)
			return e.String(http.StatusBadRequest, perr.Message())
		case errors.Is(err, ErrNotAuthorized):
			return e.String(http.StatusUnauthorized, msgNotAuthorized)
		default:
			s.logger.Error("upstream failure during authorization", "provider", s.gw.Name(), "err", err)
			return e.String(http.StatusBadGateway, msgBadGateway)
		}
	}

	s.logger.Info("redirecting authorized user", "provider", identity.Provider, "user", identity.ID)
	s.logger.Debug("authorized user details", "provider", identity.Provider, "user", identity.ID, "name", identity.Name, "email", identity.Email)

	return e.Redirect(http.StatusFound, s.successRedirectUrl)
}

func (s *Server) handleNotFound(e echo.Context) error {
	return e.String(http.StatusNotFound, msgNotFound)
}

func (s *Server) handleError(err error, e echo.Context) {
	if e.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code) + "."

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = http.StatusText(code) + "."
		if code == http.StatusNotFound {
			msg = msgNotFound
		}
	} else {
		s.logger.Error("unhandled error", "err", err)
	}

	if e.Request().Method == http.MethodHead {
		if err := e.NoContent(code); err != nil {
			s.logger.Error("could not write error response", "err", err)
		}
		return
	}

	if err := e.String(code, msg); err != nil {
		s.logger.Error("could not write error response", "err", err)
	}
}
