package serve

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
)

// #region http-server
// NewHTTPServer routes the inference API. metricsHandler may be nil.
func NewHTTPServer(svc *Service, metricsHandler http.Handler, logger *slog.Logger) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	e.GET("/health", HealthHandler())
	e.GET("/ready", ReadyHandler(svc))
	e.POST("/predict", PredictHandler(svc))
	e.GET("/run", RunHandler(svc))
	if metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(metricsHandler))
	}
	return e
}

// #endregion http-server

// #region handlers
type errorBody struct {
	Error string `json:"error"`
}

// HealthHandler answers liveness. It succeeds whether or not a model is loaded.
func HealthHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

func ReadyHandler(svc *Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := map[string]string{"status": svc.State().String()}
		if msg := svc.Failure(); msg != "" {
			body["error"] = msg
		}
		if !svc.Ready() {
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}

// PredictHandler decodes a flat JSON object of feature values and scores it.
func PredictHandler(svc *Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		dec := json.NewDecoder(c.Request().Body)
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		}
		if fields == nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "request body must be a JSON object"})
		}

		pred, err := svc.Predict(c.Request().Context(), fields)
		if err != nil {
			return c.JSON(httpStatus(err), errorBody{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, predictionBody(pred))
	}
}

// RunHandler describes the loaded run.
func RunHandler(svc *Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		run := svc.Run()
		b := svc.Bundle()
		if run == nil || b == nil {
			return c.JSON(http.StatusServiceUnavailable, errorBody{Error: ErrNotReady.Error()})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"run_id":            run.ID,
			"experiment":        run.Experiment,
			"status":            run.Status,
			"metrics":           run.Metrics,
			"features":          b.Features(),
			"model_kind":        b.Model.Kind(),
			"model_version":     b.ModelVersion,
			"transform_version": b.TransformVersion,
		})
	}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotReady):
		return http.StatusServiceUnavailable
	case fault.Is(err, fault.Request):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// #endregion handlers

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("http request",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	}
}
