package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bgross0/data-migrator-sub001/pkg/reqctx"
)

// HeaderOperator identifies the reviewer acting through the API.
const HeaderOperator = "X-Operator"

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := reqctx.SetRequestID(req.Context(), requestID)
			ctx = reqctx.SetOperator(ctx, req.Header.Get(HeaderOperator))

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
