package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newJWTApp() *fiber.App {
	app := fiber.New()
	app.Use(JWTProtected(testSecret))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id": c.Locals("user_id"),
			"role":    c.Locals("user_role"),
			"token":   GetAccessToken(c),
			"ctx":     AccessTokenFromContext(c.UserContext()),
		})
	})
	return app
}

func TestJWTProtectedExposesSubjectRoleAndToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"sub": "teacher-7", "role": "Teacher", "exp": time.Now().Add(time.Hour).Unix()})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := newJWTApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload map[string]string
	decodeBody(t, resp, &payload)
	require.Equal(t, "teacher-7", payload["user_id"])
	require.Equal(t, "teacher", payload["role"])
	require.Equal(t, token, payload["token"])
	require.Equal(t, token, payload["ctx"])
}

func TestJWTProtectedAcceptsNumericSubjectAndQueryToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"user_id": float64(42), "roles": []interface{}{"admin"}})

	req := httptest.NewRequest(http.MethodGet, "/?access_token="+token, nil)
	resp, err := newJWTApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload map[string]string
	decodeBody(t, resp, &payload)
	require.Equal(t, "42", payload["user_id"])
	require.Equal(t, "admin", payload["role"])
}

func TestJWTProtectedRejectsInvalidTokens(t *testing.T) {
	cases := map[string]string{
		"missing":    "",
		"scheme":     "Basic abc",
		"signature":  "Bearer " + signToken(t, jwt.MapClaims{"sub": "x"}) + "tampered",
		"no subject": "Bearer " + signToken(t, jwt.MapClaims{"role": "teacher"}),
		"expired":    "Bearer " + signToken(t, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Hour).Unix()}),
	}

	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := newJWTApp().Test(req)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestJWTProtectedPrefersAppMetadataRole(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":          "user-9",
		"role":         "authenticated",
		"app_metadata": map[string]interface{}{"role": "Student"},
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := newJWTApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload map[string]string
	decodeBody(t, resp, &payload)
	require.Equal(t, "student", payload["role"])
}
