package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestAuthSkipper(t *testing.T) {
	tests := []struct {
		path   string
		public bool
	}{
		{"/health", true},
		{"/health/db", true},
		{"/api/v1/auth/login", true},
		{"/api/v1/auth/signup", true},
		{"/api/v1/auth/verify", true},
		{"/api/v1/me", false},
		{"/api/v1/visits/:id", false},
		{"/ws", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, tt.path, nil), httptest.NewRecorder())
			c.SetPath(tt.path)
			assert.Equal(t, tt.public, AuthSkipper(c))
			assert.Equal(t, tt.public, IsPublicPath(tt.path))
		})
	}
}
