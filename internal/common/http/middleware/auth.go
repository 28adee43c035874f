package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pkgerrors "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig enables bearer token checks. An empty secret disables them and
// the X-User-Id header is trusted as is.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

func (c AuthConfig) Enabled() bool { return c.JWTSecret != "" }

type tokenClaims struct {
	TokenType string `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuthMiddleware validates HS256 access tokens and replaces the caller id
// with the token subject. It must run after TraceContextMiddleware.
func TokenAuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	if !cfg.Enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	secret := []byte(cfg.JWTSecret)
	return func(c *gin.Context) {
		subject, err := parseAccessToken(extractBearerToken(c.GetHeader("Authorization")), secret, cfg.JWTIssuer)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Set(contextkey.UserID.String(), subject)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextkey.UserID, subject))
		c.Next()
	}
}

func parseAccessToken(raw string, secret []byte, issuer string) (string, error) {
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.Unauthorized).WithMessage("missing bearer token")
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", pkgerrors.New(pkgerrors.Unauthorized).WithMessage("token expired")
		}
		return "", pkgerrors.New(pkgerrors.Unauthorized).WithMessage("invalid token")
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return "", pkgerrors.New(pkgerrors.Unauthorized).WithMessage("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return "", pkgerrors.New(pkgerrors.Unauthorized).WithMessage("invalid token issuer")
	}
	if claims.TokenType != "" && claims.TokenType != "access" {
		return "", pkgerrors.New(pkgerrors.Unauthorized).WithMessage("not an access token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", pkgerrors.New(pkgerrors.Unauthorized).WithMessage("token has no subject")
	}
	return claims.Subject, nil
}

func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
