package service

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/internal/domain"
	"github.com/imprint-pub/imprint/jwt"
)

var tracer = otel.Tracer("service")

type AuthService struct {
	config *domain.Config
}

func NewAuthService(config *domain.Config) *AuthService {
	return &AuthService{
		config: config,
	}
}

type AuthResult struct {
	AuthorKey string
}

// AuthJwt validates a session token and resolves the requesting author key.
func (s *AuthService) AuthJwt(ctx context.Context, token string) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "Auth.Service.AuthJwt")
	defer span.End()

	header, claims, err := jwt.Validate(token)
	if err != nil {
		span.RecordError(errors.Wrap(err, "jwt validation failed"))
		return nil, err
	}

	if claims.Audience != s.config.FQDN {
		err := fmt.Errorf("jwt audience mismatch: expected %s, got %s", s.config.FQDN, claims.Audience)
		span.RecordError(err)
		return nil, err
	}

	if claims.Subject != "imprint" {
		err := fmt.Errorf("invalid subject")
		span.RecordError(err)
		return nil, err
	}

	keyID := header.KeyID
	if keyID == "" {
		keyID = claims.Issuer
	}

	if !imprint.IsAuthorKey(keyID) {
		span.RecordError(fmt.Errorf("invalid issuer"))
		return nil, fmt.Errorf("invalid issuer")
	}

	return &AuthResult{AuthorKey: keyID}, nil
}

// AuthAdminToken checks a plaintext admin token against the configured hash.
func (s *AuthService) AuthAdminToken(ctx context.Context, token string) error {
	_, span := tracer.Start(ctx, "Auth.Service.AuthAdminToken")
	defer span.End()

	if s.config.AdminTokenHash == "" {
		err := fmt.Errorf("admin access is not configured")
		span.RecordError(err)
		return err
	}

	err := bcrypt.CompareHashAndPassword([]byte(s.config.AdminTokenHash), []byte(token))
	if err != nil {
		span.RecordError(errors.Wrap(err, "admin token mismatch"))
		return fmt.Errorf("invalid admin token")
	}

	return nil
}
