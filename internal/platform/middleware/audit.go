package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// Audit emits one structured "mutation" log line for every state-changing
// request under /api/v1. Domain audit records (MED_DISPENSED and friends)
// are written by the services themselves; this is the request-level trail.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isMutation(req.Method) || !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			p, _ := auth.PrincipalFromContext(req.Context())
			rid, _ := c.Get("request_id").(string)
			collection, docID := resourceOf(req.URL.Path)

			logger.Info().
				Str("type", "mutation").
				Str("request_id", rid).
				Str("user_id", userID(p)).
				Str("user_email", p.Email).
				Str("role", string(p.Role)).
				Str("action", methodToAction(req.Method)).
				Str("collection", collection).
				Str("document_id", docID).
				Str("path", req.URL.Path).
				Int("status", status).
				Msg("mutation")

			return err
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceOf splits /api/v1/visits/<id>/... into ("visits", "<id>").
func resourceOf(path string) (string, string) {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	collection := "unknown"
	if len(segments) > 0 && segments[0] != "" {
		collection = segments[0]
	}
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			return collection, segments[1]
		}
	}
	return collection, ""
}

func userID(p auth.Principal) string {
	if p.UserID == uuid.Nil {
		return ""
	}
	return p.UserID.String()
}
