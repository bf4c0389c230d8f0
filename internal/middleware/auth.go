package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
)

const callerKey = "caller"

// Claims are the bearer token claims issued by the dashboard.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// RequireAuth validates an HS256 bearer token and stores the caller in Locals.
func RequireAuth(secret string) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return apperr.Unauthenticated("missing bearer token")
		}

		claims := &Claims{}
		_, err := parser.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || claims.Subject == "" {
			return apperr.Unauthenticated("invalid or expired token")
		}

		c.Locals(callerKey, &models.Caller{
			UserID: claims.Subject,
			Email:  models.NormalizeEmail(claims.Email),
			Role:   claims.Role,
		})
		return c.Next()
	}
}

// RequireRole only lets callers with one of roles through. Must run after RequireAuth.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := CallerFrom(c)
		if caller == nil {
			return apperr.Unauthenticated("authentication required")
		}
		for _, role := range roles {
			if caller.Role == role {
				return c.Next()
			}
		}
		return apperr.PermissionDenied("insufficient role")
	}
}

// CallerFrom returns the authenticated caller, or nil.
func CallerFrom(c *fiber.Ctx) *models.Caller {
	caller, _ := c.Locals(callerKey).(*models.Caller)
	return caller
}

// IssueToken signs a bearer token for caller. Used by the CLI and tests.
func IssueToken(secret string, caller models.Caller, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Email: caller.Email,
		Role:  caller.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	return signed, errors.Wrap(err, "sign token")
}
