package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up() Pinger   { return PingFunc(func(context.Context) error { return nil }) }
func down() Pinger { return PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }) }

func ready(t *testing.T, deps ...Dependency) (int, map[string]any) {
	t.Helper()
	app := fiber.New()
	h := NewHealthHandler("test", deps...)
	app.Get("/health/ready", h.Ready)

	resp, err := app.Test(httptest.NewRequest("GET", "/health/ready", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		deps       []Dependency
		wantCode   int
		wantStatus string
	}{
		{"all up", []Dependency{{Name: "database", Check: up()}, {Name: "broker", Check: up()}}, 200, "healthy"},
		{"optional down", []Dependency{{Name: "database", Check: up()}, {Name: "redis", Check: down(), Optional: true}}, 200, "degraded"},
		{"required down", []Dependency{{Name: "database", Check: down()}, {Name: "redis", Check: up(), Optional: true}}, 503, "unhealthy"},
		{"disabled is not down", []Dependency{{Name: "redis", Optional: true}}, 200, "healthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ready(t, tt.deps...)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Len(t, body["checks"], len(tt.deps))
		})
	}
}

func TestReady_ReportsDisabled(t *testing.T) {
	_, body := ready(t, Dependency{Name: "search", Optional: true})
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "disabled", checks["search"].(map[string]any)["status"])
}

func TestSanitizeEndpoint(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/api/v1/content/abc/votes", "/api/v1/content/:contentId/votes"},
		{"/api/v1/content/abc/votes/me", "/api/v1/content/:contentId/votes/me"},
		{"/api/v1/content/abc/results", "/api/v1/content/:contentId/results"},
		{"/api/v1/content/abc", "/api/v1/content/:contentId"},
		{"/api/v1/users/me/votes", "/api/v1/users/me/votes"},
		{"/health/live", "/health/live"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeEndpoint(tt.in), tt.in)
	}
}
