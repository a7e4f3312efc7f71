package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"kontakt.org/internal/auth"
	"kontakt.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
	cookiePath    = "/api/"
)

// authedHandler receives the resolved caller.
type authedHandler func(w http.ResponseWriter, r *http.Request, user auth.User)

// withAuth resolves the caller from the bearer header or the token cookies.
// A silent refresh re-issues the access cookie; a revoked refresh token clears both cookies.
func (a *API) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds := identity.Credentials{
			Bearer:        bearerToken(r.Header.Get(authHeader)),
			AccessCookie:  cookieValue(r, accessCookie),
			RefreshCookie: cookieValue(r, refreshCookie),
		}
		res, err := a.identity.ResolveCurrentUser(r.Context(), creds)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthenticated) {
				internalError(w, r, err)
				return
			}
			if errors.Is(err, auth.ErrRefreshRevoked) {
				a.clearTokenCookies(w)
			}
			unauthorized(w, r)
			return
		}
		if res.Refreshed != nil {
			a.setTokenCookie(w, accessCookie, *res.Refreshed)
		}

		ctx := auth.ContextWithUser(r.Context(), res.User)
		next(w, r.WithContext(ctx), res.User)
	}
}

// bearerToken returns the token of a "Bearer" Authorization header, or "".
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (a *API) setTokenCookie(w http.ResponseWriter, name string, tok auth.Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    tok.Value,
		Path:     cookiePath,
		Expires:  tok.ExpiresAt,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{accessCookie, refreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     cookiePath,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   a.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
