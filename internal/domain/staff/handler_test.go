package staff

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/pkg/apperr"
)

func newContext(method, target, body string, p *auth.Principal) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func TestHandler_SignUpVerifyLogin(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	c, rec := newContext(http.MethodPost, "/api/v1/auth/signup",
		`{"email":"doc@clinic.test","password":"secret1","fullName":"Dr Who"}`, nil)
	require.NoError(t, h.SignUp(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret1")
	assert.NotContains(t, rec.Body.String(), "password")

	c, _ = newContext(http.MethodPost, "/api/v1/auth/login", `{"email":"doc@clinic.test","password":"secret1"}`, nil)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(h.Login(c)))

	u, err := f.repo.GetByEmail(c.Request().Context(), "doc@clinic.test")
	require.NoError(t, err)
	c, rec = newContext(http.MethodPost, "/api/v1/auth/verify", `{"token":"`+u.VerificationToken+`"}`, nil)
	require.NoError(t, h.VerifyEmail(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = newContext(http.MethodPost, "/api/v1/auth/login", `{"email":"doc@clinic.test","password":"secret1"}`, nil)
	require.NoError(t, h.Login(c))
	var sess Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, auth.RoleDoctor, sess.User.Role)
}

func TestHandler_DeleteStaff(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	admin := f.admin(t)

	c, _ := newContext(http.MethodPost, "/api/v1/staff",
		`{"email":"lab@clinic.test","password":"secret1","fullName":"Lab","role":"LAB"}`, &admin)
	require.NoError(t, h.RegisterStaff(c))
	u, err := f.repo.GetByEmail(c.Request().Context(), "lab@clinic.test")
	require.NoError(t, err)

	c, rec := newContext(http.MethodDelete, "/", "", &admin)
	c.SetParamNames("id")
	c.SetParamValues(u.ID.String())
	require.NoError(t, h.DeleteStaff(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandler_Me(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	admin := f.admin(t)

	c, rec := newContext(http.MethodGet, "/api/v1/me", "", &admin)
	require.NoError(t, h.Me(c))
	assert.Contains(t, rec.Body.String(), `"role":"ADMIN"`)
}
