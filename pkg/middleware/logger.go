package middleware

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
)

func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			logger.WithContext(req.Context()).WithFields(map[string]any{
				"method":        req.Method,
				"uri":           req.RequestURI,
				"route":         c.Path(),
				"status":        c.Response().Status,
				"remote_ip":     c.RealIP(),
				"response_time": time.Since(start),
				"response_size": c.Response().Size,
			}).Info("Request")

			return nil
		}
	}
}
