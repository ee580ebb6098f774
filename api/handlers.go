package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const (
	// HeaderIdempotencyKey lets a caller retry POST /tasks safely.
	HeaderIdempotencyKey = "Idempotency-Key"

	maxIdempotencyKeyLength = 255
	healthTimeout           = 2 * time.Second
)

// Register wires up all API routes on the provided Echo instance. deduper
// and health may be nil.
func Register(e *echo.Echo, svc Service, deduper Deduper, health Pinger, logger *log.Logger) {
	if svc == nil {
		panic("api.Register: service is nil")
	}
	if logger == nil {
		panic("api.Register: logger is nil")
	}
	e.JSONSerializer = sonicSerializer{}
	e.Validator = NewValidator()

	e.GET("/healthz", healthz(health))

	g := e.Group("/tasks", RequestMetrics(logger), Identity())
	g.POST("", createTask(svc, deduper, logger), RequireCaller)
	g.GET("", listTasks(svc))
	g.GET("/:id", getTask(svc))
	g.PATCH("/:id", updateTask(svc), RequireCaller)
	g.DELETE("/:id", deleteTask(svc), RequireCaller)
}

func healthz(health Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if health == nil {
			return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if err := health.Ping(ctx); err != nil {
			c.Logger().Errorf("health check failed: %v", err)
			return writeError(c, http.StatusServiceUnavailable, "database unavailable")
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

func createTask(svc Service, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		ctx := c.Request().Context()
		callerID := callerFrom(c)

		decodeStart := time.Now()
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			m.SetErrorStage("decode")
			return writeError(c, http.StatusBadRequest, err.Error())
		}
		req.normalize()
		if err := c.Validate(&req); err != nil {
			m.SetErrorStage("validate")
			return writeError(c, http.StatusBadRequest, err.Error())
		}
		m.ObserveDecode(time.Since(decodeStart))

		key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
		claimed := false
		if key != "" && deduper != nil {
			if len(key) > maxIdempotencyKeyLength {
				m.SetErrorStage("validate")
				return writeError(c, http.StatusBadRequest, "Idempotency-Key is too long")
			}
			added, err := deduper.Add(ctx, callerID, key)
			switch {
			case err != nil:
				logger.WithError(err).WithField("caller", callerID).Warn("idempotency check failed; processing without it")
			case !added:
				m.SetErrorStage("duplicate")
				return writeError(c, http.StatusConflict, "duplicate request")
			default:
				claimed = true
			}
		}

		serviceStart := time.Now()
		task, err := svc.Create(ctx, req.toInput(), callerID)
		m.ObserveService(time.Since(serviceStart))
		if err != nil {
			if claimed {
				if rerr := deduper.Remove(context.WithoutCancel(ctx), callerID, key); rerr != nil {
					logger.WithError(rerr).WithFields(log.Fields{"caller": callerID, "key": key}).Error("dedupe rollback failed")
				}
			}
			return writeServiceError(c, err)
		}
		return encode(c, http.StatusCreated, task)
	}
}

func listTasks(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		q, err := parseListQuery(c)
		if err != nil {
			m.SetErrorStage("validate")
			return writeError(c, http.StatusBadRequest, err.Error())
		}

		serviceStart := time.Now()
		page, err := svc.FindAll(c.Request().Context(), q, callerFrom(c))
		m.ObserveService(time.Since(serviceStart))
		if err != nil {
			return writeServiceError(c, err)
		}
		m.SetItemsReturned(len(page.Items))
		return encode(c, http.StatusOK, page)
	}
}

func getTask(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		id, err := parseTaskID(c)
		if err != nil {
			m.SetErrorStage("validate")
			return writeError(c, http.StatusBadRequest, err.Error())
		}

		serviceStart := time.Now()
		task, err := svc.FindOne(c.Request().Context(), id, callerFrom(c))
		m.ObserveService(time.Since(serviceStart))
		if err != nil {
			return writeServiceError(c, err)
		}
		return encode(c, http.StatusOK, task)
	}
}

func updateTask(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		id, err := parseTaskID(c)
		if err != nil {
			m.SetErrorStage("validate")
			return writeError(c, http.StatusBadRequest, err.Error())
		}

		decodeStart := time.Now()
		var req updateTaskRequest
		if err := decodeBody(c, &req); err != nil {
			m.SetErrorStage("decode")
			return writeError(c, http.StatusBadRequest, err.Error())
		}
		if err := req.normalize(); err != nil {
			m.SetErrorStage("validate")
			return writeError(c, http.StatusBadRequest, err.Error())
		}
		if err := c.Validate(&req); err != nil {
			m.SetErrorStage("validate")
			return writeError(c, http.StatusBadRequest, err.Error())
		}
		if err := req.validateTags(); err != nil {
			m.SetErrorStage("validate")
			return writeError(c, http.StatusBadRequest, err.Error())
		}
		m.ObserveDecode(time.Since(decodeStart))

		serviceStart := time.Now()
		task, err := svc.Update(c.Request().Context(), id, req.toPatch(), callerFrom(c))
		m.ObserveService(time.Since(serviceStart))
		if err != nil {
			return writeServiceError(c, err)
		}
		return encode(c, http.StatusOK, task)
	}
}

func deleteTask(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		id, err := parseTaskID(c)
		if err != nil {
			m.SetErrorStage("validate")
			return writeError(c, http.StatusBadRequest, err.Error())
		}

		serviceStart := time.Now()
		_, err = svc.Remove(c.Request().Context(), id, callerFrom(c))
		m.ObserveService(time.Since(serviceStart))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func encode(c echo.Context, status int, body any) error {
	m := metricsFrom(c)
	start := time.Now()
	err := c.JSON(status, body)
	m.ObserveEncode(time.Since(start))
	if err != nil {
		m.SetErrorStage("encode_response")
	}
	return err
}
