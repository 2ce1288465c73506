package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/imprint-pub/imprint/internal/domain"
	"github.com/imprint-pub/imprint/internal/service"
)

var tracer = otel.Tracer("auth")

type AuthMiddleware struct {
	auth   *service.AuthService
	config domain.Config
}

func NewAuthMiddleware(
	auth *service.AuthService,
	config domain.Config,
) *AuthMiddleware {
	return &AuthMiddleware{
		auth:   auth,
		config: config,
	}
}

// IdentifyRequester resolves a Bearer session token to an author key and
// stashes it in the request context. Anonymous requests pass through; route
// handlers decide whether a requester is required.
func (s *AuthMiddleware) IdentifyRequester(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Middleware.IdentifyRequester",
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		authHeader := c.Request().Header.Get("authorization")

		if authHeader != "" {
			split := strings.Split(authHeader, " ")
			if len(split) != 2 {
				span.RecordError(fmt.Errorf("invalid authentication header"))
				goto skipCheckAuthorization
			}

			authType, token := split[0], split[1]
			if authType != "Bearer" {
				span.RecordError(fmt.Errorf("only Bearer is acceptable"))
				goto skipCheckAuthorization
			}

			result, err := s.auth.AuthJwt(ctx, token)
			if err != nil {
				span.RecordError(errors.Wrap(err, "AuthMiddleware.IdentifyRequester: s.auth.AuthJwt failed"))
				goto skipCheckAuthorization
			}

			ctx = context.WithValue(ctx, domain.RequesterKeyCtxKey, result.AuthorKey)
			span.SetAttributes(attribute.String("RequesterKey", result.AuthorKey))

		}

	skipCheckAuthorization:
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// RequireAdmin gates relay administration behind the configured admin token.
func (s *AuthMiddleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Middleware.RequireAdmin")
		defer span.End()

		token := c.Request().Header.Get("X-Admin-Token")
		if token == "" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "admin token required"})
		}

		if err := s.auth.AuthAdminToken(ctx, token); err != nil {
			span.RecordError(err)
			return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid admin token"})
		}

		ctx = context.WithValue(ctx, domain.RequesterAdminCtxKey, true)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
