package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/joho/godotenv"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	gateway "github.com/streamplace/oauth-gateway"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "oauth-gateway",
		Usage:   "gate a site behind discord or microsoft login",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "address to listen on",
				Value:   ":8080",
				EnvVars: []string{"GATEWAY_ADDR"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "address to serve prometheus metrics on, disabled when empty",
				EnvVars: []string{"GATEWAY_METRICS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "dotenv file to load before reading configuration",
				EnvVars: []string{"GATEWAY_ENV_FILE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "info",
				EnvVars: []string{"GATEWAY_LOG_LEVEL"},
			},
		},
		Action: run,
	}

	app.RunAndExitOnError()
}

func run(cmd *cli.Context) error {
	logger, err := newLogger(cmd.String("log-level"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if ef := cmd.String("env-file"); ef != "" {
		if err := godotenv.Load(ef); err != nil {
			return fmt.Errorf("could not load env file: %w", err)
		}
	}

	cfg, err := gateway.LoadConfig(nil)
	if err != nil {
		return err
	}

	gw, err := gateway.NewGateway(cfg, nil, logger)
	if err != nil {
		return err
	}

	srv, err := gateway.NewServer(gateway.ServerArgs{
		Gateway:            gw,
		SuccessRedirectUrl: cfg.SuccessRedirectUrl,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	e := srv.Echo()

	ctx, stop := signal.NotifyContext(cmd.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers := []*http.Server{{
		Addr:              cmd.String("addr"),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}}

	if ma := cmd.String("metrics-addr"); ma != "" {
		e.Use(echoprometheus.NewMiddleware("oauth_gateway"))

		me := echo.New()
		me.HideBanner = true
		me.HidePort = true
		me.GET("/metrics", echoprometheus.NewHandler())

		servers = append(servers, &http.Server{
			Addr:              ma,
			Handler:           me,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	errs := make(chan error, len(servers))
	for _, httpd := range servers {
		logger.Info("starting http server", "addr", httpd.Addr, "provider", gw.Name(), "version", versioninfo.Short())
		go func(httpd *http.Server) {
			if err := httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}(httpd)
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, httpd := range servers {
		if err := httpd.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down http server", "addr", httpd.Addr, "err", err)
		}
	}

	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
