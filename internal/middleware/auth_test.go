package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
)

const secret = "unit-test-secret"

func newAuthApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperr.HTTPStatus(apperr.CodeOf(err)))
		},
	})
	app.Get("/me", RequireAuth(secret), func(c *fiber.Ctx) error {
		return c.JSON(CallerFrom(c))
	})
	app.Get("/staff", RequireAuth(secret), RequireRole(models.RoleAgent, models.RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})
	return app
}

func get(t *testing.T, app *fiber.App, path, authorization string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestRequireAuth(t *testing.T) {
	app := newAuthApp()
	token, err := IssueToken(secret, models.Caller{UserID: "u-1", Email: "Agent@Example.com", Role: models.RoleAgent}, time.Hour)
	require.NoError(t, err)

	resp := get(t, app, "/me", "Bearer "+token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var caller models.Caller
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&caller))
	assert.Equal(t, "u-1", caller.UserID)
	assert.Equal(t, "agent@example.com", caller.Email)
	assert.Equal(t, models.RoleAgent, caller.Role)
}

func TestRequireAuthRejects(t *testing.T) {
	app := newAuthApp()
	expired, err := IssueToken(secret, models.Caller{UserID: "u-1", Role: models.RoleAgent}, -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken("another-secret", models.Caller{UserID: "u-1", Role: models.RoleAgent}, time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"expired":      "Bearer " + expired,
		"wrong secret": "Bearer " + foreign,
		"alg none":     "Bearer " + none,
	} {
		t.Run(name, func(t *testing.T) {
			resp := get(t, app, "/me", header)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestRequireRole(t *testing.T) {
	app := newAuthApp()
	client, err := IssueToken(secret, models.Caller{UserID: "u-2", Role: models.RoleClient}, time.Hour)
	require.NoError(t, err)
	admin, err := IssueToken(secret, models.Caller{UserID: "u-3", Role: models.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, get(t, app, "/staff", "Bearer "+client).StatusCode)
	assert.Equal(t, http.StatusNoContent, get(t, app, "/staff", "Bearer "+admin).StatusCode)
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	_, err := IssueToken("", models.Caller{UserID: "u"}, time.Hour)
	assert.Error(t, err)
}
