package echoapi

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			if claims.IsAdmin && claims.hasAnyRole(roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func studentMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		if claims.IsStudent {
			return next(ctx)
		}
		return errHttpForbidden
	}
}

// selfOrAdminMiddleware lets admins through, and students whose ID is the `param` path parameter.
func selfOrAdminMiddleware(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			if claims.IsAdmin || (claims.Subject != "" && claims.Subject == ctx.Param(param)) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// timeoutMiddleware bounds the request context. Handlers pass it down to storage.
func timeoutMiddleware(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(ctx echo.Context) error {
			rctx, cancel := context.WithTimeout(ctx.Request().Context(), timeout)
			defer cancel()
			ctx.SetRequest(ctx.Request().WithContext(rctx))
			return next(ctx)
		}
	}
}
