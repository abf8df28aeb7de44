package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	healthy := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	cases := []struct {
		name   string
		checks []ReadinessCheck
		status int
		want   map[string]string
	}{
		{name: "all up", checks: []ReadinessCheck{{Name: "postgres", Check: healthy}, {Name: "redis", Check: healthy}}, status: http.StatusOK, want: map[string]string{"postgres": "up", "redis": "up"}},
		{name: "redis down", checks: []ReadinessCheck{{Name: "postgres", Check: healthy}, {Name: "redis", Check: down}}, status: http.StatusServiceUnavailable, want: map[string]string{"postgres": "up", "redis": "down"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewHealthHandler(tc.checks...)
			router := gin.New()
			router.GET("/healthz", handler.Status)
			router.GET("/readyz", handler.Ready)

			if rr := perform(router, request{method: http.MethodGet, path: "/healthz"}); rr.Code != http.StatusOK {
				t.Fatalf("liveness must not depend on checks, got %d", rr.Code)
			}

			rr := perform(router, request{method: http.MethodGet, path: "/readyz"})
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body ReadinessResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			for name, state := range tc.want {
				if body.Checks[name] != state {
					t.Fatalf("check %s: expected %s, got %s", name, state, body.Checks[name])
				}
			}
		})
	}
}
