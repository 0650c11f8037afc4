// Package guard decides whether protected views may render for a session
// state, and applies the same decision to HTTP requests.
package guard

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"estatedesk/internal/auth"
	"estatedesk/internal/session"
)

// Mode selects how an initialized, anonymous session is handled.
type Mode string

const (
	// ModeRedirect sends anonymous, initialized sessions to sign-in.
	ModeRedirect Mode = "redirect"
	// ModeLegacy only redirects while uninitialized, so an anonymous
	// initialized session renders nothing.
	ModeLegacy Mode = "legacy"
)

// ParseMode validates a configured mode. Empty means ModeRedirect.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(s)) {
	case ModeRedirect, "":
		return ModeRedirect, nil
	case ModeLegacy:
		return ModeLegacy, nil
	default:
		return "", fmt.Errorf("unknown guard mode %q", s)
	}
}

// Decision is what a guarded view should do.
type Decision int

const (
	// Placeholder shows a spinner and performs no navigation.
	Placeholder Decision = iota
	// Redirect navigates to sign-in.
	Redirect
	// Render shows the protected view.
	Render
	// Nothing renders an empty view.
	Nothing
)

func (d Decision) String() string {
	switch d {
	case Placeholder:
		return "placeholder"
	case Redirect:
		return "redirect"
	case Render:
		return "render"
	case Nothing:
		return "nothing"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Decide maps a session state onto a Decision.
func Decide(st session.State, mode Mode) Decision {
	if st.Loading {
		return Placeholder
	}
	if mode == ModeLegacy {
		if st.User == nil && !st.Initialized {
			return Redirect
		}
		if st.User != nil {
			return Render
		}
		return Nothing
	}
	if st.User != nil {
		return Render
	}
	return Redirect
}

// TokenAuthenticator resolves bearer tokens.
type TokenAuthenticator interface {
	Authenticate(token string) (auth.Identity, error)
}

const identityKey = "estatedesk.identity"

// SignInPath is where anonymous API callers are pointed.
const SignInPath = "/api/v1/auth/sign-in"

// Middleware guards echo routes with a bearer token.
func Middleware(a TokenAuthenticator, mode Mode) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			st := session.State{Initialized: true}
			if token, ok := bearer(c.Request().Header.Get(echo.HeaderAuthorization)); ok {
				if id, err := a.Authenticate(token); err == nil {
					st.User = &id
				}
			}
			switch Decide(st, mode) {
			case Render:
				c.Set(identityKey, *st.User)
				return next(c)
			case Redirect:
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="estatedesk"`)
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "authentication required",
					"sign_in": SignInPath,
				})
			default:
				return c.NoContent(http.StatusUnauthorized)
			}
		}
	}
}

// IdentityFrom returns the identity stored by Middleware.
func IdentityFrom(c echo.Context) (auth.Identity, bool) {
	id, ok := c.Get(identityKey).(auth.Identity)
	return id, ok
}

func bearer(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
