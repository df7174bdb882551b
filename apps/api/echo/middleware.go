package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

// profileMiddleware loads the profile of the token subject. Tokens of deleted profiles are rejected.
func profileMiddleware(svc *profile.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			p, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
			if err != nil {
				if errors.Cause(err) == profile.ErrNotFound {
					return errUnauthorized
				}
				return errors.Wrap(err, "finding profile by ID")
			}
			ctx.Set(contextProfileKey, p)
			return next(ctx)
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if getSession(ctx).IsAdmin {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}
