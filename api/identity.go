package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// HeaderUserID carries the trusted caller identity.
const HeaderUserID = "X-User-Id"

const callerContextKey = "tasklog.caller_id"

var (
	errMissingIdentity = errors.New("missing X-User-Id header")
	errBadIdentity     = errors.New("invalid X-User-Id header")
)

// Identity resolves the X-User-Id header. A request without the header, or
// with a blank one, continues as anonymous; a malformed header is rejected
// with 401.
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			values := c.Request().Header.Values(HeaderUserID)
			if len(values) == 0 {
				return next(c)
			}
			id, err := userIDFromString(values[0])
			if errors.Is(err, errMissingIdentity) {
				return next(c)
			}
			if err != nil {
				metricsFrom(c).SetErrorStage("identity")
				return writeError(c, http.StatusUnauthorized, err.Error())
			}
			c.Set(callerContextKey, id)
			metricsFrom(c).SetCaller(id)
			return next(c)
		}
	}
}

// RequireCaller rejects anonymous requests with 401.
func RequireCaller(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if callerFrom(c) == 0 {
			metricsFrom(c).SetErrorStage("identity")
			return writeError(c, http.StatusUnauthorized, errMissingIdentity.Error())
		}
		return next(c)
	}
}

// callerFrom returns the caller id, or zero for anonymous requests.
func callerFrom(c echo.Context) int64 {
	id, _ := c.Get(callerContextKey).(int64)
	return id
}

// userIDFromString accepts a positive decimal integer with optional
// surrounding spaces.
func userIDFromString(raw string) (int64, error) {
	start := 0
	end := len(raw)
	for start < end && raw[start] == ' ' {
		start++
	}
	for end > start && raw[end-1] == ' ' {
		end--
	}
	if start >= end {
		return 0, errMissingIdentity
	}
	digits := raw[start:end]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, errBadIdentity
		}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadIdentity
	}
	return id, nil
}
