package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

// Middleware resolves the caller from a bearer token or the session cookie
// and stores the principal on the request context. Requests without
// credentials pass through anonymously; Require decides whether that is
// acceptable. A present but invalid credential is rejected with 401, except
// on public paths, which never look at credentials, and on the login and
// logout routes, where it is dropped.
func Middleware(sessions *SessionManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, present := extractToken(c.Request())
			if !present || PublicSkipper(c) {
				return next(c)
			}

			p, err := sessions.Parse(token)
			if err != nil {
				if IgnoresBadCredentials(c) {
					return next(c)
				}
				return apperr.Unauthenticated("invalid or expired session")
			}

			c.Set("principal_id", p.ID.String())
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

func extractToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") && tok != "" {
			return tok, true
		}
		return "", true
	}
	if ck, err := r.Cookie(SessionCookie); err == nil && ck.Value != "" {
		return ck.Value, true
	}
	return "", false
}
