package server

import (
	"context"
	"errors"
	"log"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/siqueiraa/kpublish/pkg/config"
	"github.com/siqueiraa/kpublish/pkg/metrics"
	"github.com/siqueiraa/kpublish/pkg/publish"
)

const publishPath = "/kafka/publish"

// Publisher runs one publish request.
type Publisher interface {
	Publish(ctx context.Context, req *publish.Request, count int) (publish.Response, error)
}

// New builds the HTTP surface: the publish endpoint plus /metrics and /healthz.
func New(pub Publisher, rec *metrics.Recorder, cfg config.ServerConfig, debug bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetOutput(log.Writer())
	e.JSONSerializer = jsonSerializer{}

	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.Recover())
	if debug {
		e.Use(requestLogger())
	}

	e.POST(publishPath, publishHandler(pub), observeStatus(rec))
	e.GET("/metrics", echo.WrapHandler(rec.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return e
}

func publishHandler(pub Publisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		if ct := c.Request().Header.Get(echo.HeaderContentType); ct != "" {
			mt, _, err := mime.ParseMediaType(ct)
			if err != nil || mt != echo.MIMEApplicationJSON {
				return echo.ErrUnsupportedMediaType
			}
		}

		count := 1
		if raw := c.QueryParam("count"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "count must be an integer").SetInternal(err)
			}
			count = n
		}

		var req publish.Request
		if err := c.Echo().JSONSerializer.Deserialize(c, &req); err != nil {
			return err
		}

		res, err := pub.Publish(c.Request().Context(), &req, count)
		switch {
		case errors.Is(err, publish.ErrBadRequest):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
		case err != nil:
			log.Printf("[HTTP] %s %s failed: %v", c.Request().Method, publishPath, err)
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

// observeStatus records the final status of every request on the route.
func observeStatus(rec *metrics.Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			status := c.Response().Status
			var he *echo.HTTPError
			switch {
			case errors.As(err, &he):
				status = he.Code
			case err != nil:
				status = http.StatusInternalServerError
			}
			rec.ObserveRequest(status)
			return err
		}
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				log.Printf("[HTTP] %s %s %d %s id=%s err=%v", v.Method, v.URI, v.Status, v.Latency, v.RequestID, v.Error)
				return nil
			}
			log.Printf("[HTTP] %s %s %d %s id=%s", v.Method, v.URI, v.Status, v.Latency, v.RequestID)
			return nil
		},
	})
}
