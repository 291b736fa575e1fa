package middleware

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/reqctx"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	Kind      errs.Kind      `json:"kind,omitempty"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		logger.WithContext(ctx).WithError(err).Error("api is returning an error")
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := "Internal Server Error"
		meta := map[string]any{}
		kind := errs.KindOf(err)

		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			}
			kind = ""
		} else if converted := errs.ToHTTP(err); httperror.IsHTTPError(converted) {
			httperr := httperror.ToHTTPError(converted)
			code = httperror.GetStatusCode(converted)
			message = httperr.Error()
			if httperr.Meta != nil {
				meta = httperr.Meta
			}
		}
		if kind == errs.KindUnknown {
			kind = ""
		}

		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			Kind:      kind,
			RequestID: reqctx.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}
