package logger

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// FiberMiddleware tags each request with an id (the caller's X-Request-ID or
// a new UUID), stores a request logger in the user context and logs the
// request once it completes.
func FiberMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := c.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDHeader, requestID)
		ctx := WithRequestID(c.UserContext(), requestID)
		ctx = IntoContext(ctx, FromContext(ctx))
		c.SetUserContext(ctx)

		err := c.Next()
		latency := time.Since(start)

		route := ""
		if r := c.Route(); r != nil {
			route = r.Path
		}

		// The error handler has not run yet, so the status may still be 200.
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		attrs := []any{
			"status", status,
			"method", c.Method(),
			"path", c.OriginalURL(),
			"route", route,
			"ip", c.IP(),
			"user_agent", c.Get(fiber.HeaderUserAgent),
			"latency_ms", float64(latency.Microseconds()) / 1000.0,
		}

		log := FromContext(ctx)
		if err != nil {
			log.Error("http request", append(attrs, "err", err.Error())...)
			return err
		}
		log.Info("http request", attrs...)
		return nil
	}
}
