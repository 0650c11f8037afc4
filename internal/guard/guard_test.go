package guard

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatedesk/internal/auth"
	"estatedesk/internal/session"
)

func TestDecide(t *testing.T) {
	user := &auth.Identity{ID: "u1"}
	cases := []struct {
		name  string
		state session.State
		mode  Mode
		want  Decision
	}{
		{"loading redirect mode", session.State{Loading: true}, ModeRedirect, Placeholder},
		{"loading even if initialized", session.State{Loading: true, Initialized: true, User: user}, ModeRedirect, Placeholder},
		{"loading legacy", session.State{Loading: true}, ModeLegacy, Placeholder},
		{"signed in", session.State{Initialized: true, User: user}, ModeRedirect, Render},
		{"signed in legacy", session.State{Initialized: true, User: user}, ModeLegacy, Render},
		{"anonymous redirects", session.State{Initialized: true}, ModeRedirect, Redirect},
		{"anonymous legacy renders nothing", session.State{Initialized: true}, ModeLegacy, Nothing},
		{"uninitialized legacy redirects", session.State{}, ModeLegacy, Redirect},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.state, tc.mode))
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeRedirect, m)
	m, err = ParseMode("legacy")
	require.NoError(t, err)
	assert.Equal(t, ModeLegacy, m)
	_, err = ParseMode("open")
	assert.Error(t, err)
	assert.Equal(t, "nothing", Nothing.String())
}

type staticAuth map[string]auth.Identity

func (s staticAuth) Authenticate(token string) (auth.Identity, error) {
	id, ok := s[token]
	if !ok {
		return auth.Identity{}, errors.New("bad token")
	}
	return id, nil
}

func serve(mode Mode, header string) *httptest.ResponseRecorder {
	e := echo.New()
	g := e.Group("", Middleware(staticAuth{"good": {ID: "u1"}}, mode))
	g.GET("/secret", func(c echo.Context) error {
		id, _ := IdentityFrom(c)
		return c.String(http.StatusOK, id.ID)
	})
	req := httptest.NewRequest(http.MethodGet, "/secret", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	rec := serve(ModeRedirect, "Bearer good")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())

	rec = serve(ModeRedirect, "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), SignInPath)

	rec = serve(ModeRedirect, "Basic good")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(ModeLegacy, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Body.String())
}
