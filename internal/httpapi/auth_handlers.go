package httpapi

import (
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"kontakt.org/internal/audit"
	"kontakt.org/internal/auth"
	"kontakt.org/internal/mail"
	"kontakt.org/internal/obs"
)

const (
	msgSignupDone       = "User successfully created. Check your email for confirmation."
	msgCheckEmail       = "Check your email for confirmation."
	msgEmailConfirmed   = "Email confirmed"
	msgAlreadyConfirmed = "Your email is already confirmed"
	msgVerificationErr  = "Verification error"
)

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupResponse struct {
	User   auth.User `json:"user"`
	Detail string    `json:"detail"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken        string    `json:"access_token"`
	TokenType          string    `json:"token_type"`
	ExpireAccessToken  time.Time `json:"expire_access_token"`
	RefreshToken       string    `json:"refresh_token"`
	ExpireRefreshToken time.Time `json:"expire_refresh_token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

func newLoginResponse(pair auth.TokenPair) loginResponse {
	return loginResponse{
		AccessToken:        pair.Access.Value,
		TokenType:          "bearer",
		ExpireAccessToken:  pair.Access.ExpiresAt.UTC(),
		RefreshToken:       pair.Refresh.Value,
		ExpireRefreshToken: pair.Refresh.ExpiresAt.UTC(),
	}
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.identity.Signup(r.Context(), auth.SignupInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSignup, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
	a.sendConfirmation(r, user.Username, user.Email)

	writeJSON(w, http.StatusCreated, signupResponse{User: user, Detail: msgSignupDone})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	req, err := readLoginRequest(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, user, err := a.identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrNotConfirmed) {
			_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{
				"email":  strings.ToLower(strings.TrimSpace(req.Username)),
				"reason": loginFailure(err),
			})
		}
		if a.setCookies {
			a.clearTokenCookies(w)
		}
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), user), audit.EventLogin, map[string]any{
		"email": user.Email,
	})
	if a.setCookies {
		a.setTokenCookie(w, accessCookie, pair.Access)
		a.setTokenCookie(w, refreshCookie, pair.Refresh)
	}
	writeJSON(w, http.StatusOK, newLoginResponse(pair))
}

// readLoginRequest accepts the OAuth2 password form as well as a JSON body.
func readLoginRequest(w http.ResponseWriter, r *http.Request) (loginRequest, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return loginRequest{}, err
		}
		return req, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := r.ParseForm(); err != nil {
		return loginRequest{}, errors.New("invalid form body")
	}
	return loginRequest{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
	}, nil
}

func loginFailure(err error) string {
	if errors.Is(err, auth.ErrNotConfirmed) {
		return "not_confirmed"
	}
	return "invalid_credentials"
}

func (a *API) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token := bearerToken(r.Header.Get(authHeader))
	if token == "" {
		token = cookieValue(r, refreshCookie)
	}
	if token == "" {
		unauthorized(w, r)
		return
	}

	pair, user, err := a.identity.Rotate(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshRevoked) {
			_ = audit.LogEvent(r.Context(), audit.EventRefreshRevoked, nil)
			a.clearTokenCookies(w)
		}
		handleAuthError(w, r, err)
		return
	}
	if a.setCookies {
		a.setTokenCookie(w, accessCookie, pair.Access)
		a.setTokenCookie(w, refreshCookie, pair.Refresh)
	}
	obs.Logger().Debug("tokens_rotated", zap.String("user_id", user.ID))
	writeJSON(w, http.StatusOK, newLoginResponse(pair))
}

// handleConfirmedEmail serves /api/auth/confirmed_email/{token}.
func (a *API) handleConfirmedEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/auth/confirmed_email/"), "/")
	if token == "" {
		writeError(w, r, http.StatusBadRequest, msgVerificationErr)
		return
	}

	user, already, err := a.identity.ConfirmEmail(r.Context(), token)
	switch {
	case err == nil:
	case auth.IsTokenError(err), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusBadRequest, msgVerificationErr)
		return
	default:
		internalError(w, r, err)
		return
	}
	if already {
		writeMessage(w, http.StatusOK, msgAlreadyConfirmed)
		return
	}
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), user), audit.EventEmailConfirmed, map[string]any{
		"email": user.Email,
	})
	writeMessage(w, http.StatusOK, msgEmailConfirmed)
}

// handleRequestEmail answers the same way whether or not the address is
// registered or already confirmed.
func (a *API) handleRequestEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusUnprocessableEntity, "email is required")
		return
	}

	tok, user, err := a.identity.ConfirmationToken(r.Context(), req.Email)
	switch {
	case err == nil:
		a.dispatch(r, mail.ConfirmationMessage(a.baseURL, user.Username, user.Email, tok.Value))
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrAlreadyExists):
	default:
		obs.Logger().Warn("confirmation_request_failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	writeMessage(w, http.StatusOK, msgCheckEmail)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request, user auth.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.identity.Logout(r.Context(), user.Email); err != nil {
		internalError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventLogout, nil)
	a.clearTokenCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSecret(w http.ResponseWriter, r *http.Request, user auth.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "secret router",
		"owner":   map[string]string{"email": user.Email},
	})
}

// sendConfirmation mints an email token and hands the message to the mailer.
func (a *API) sendConfirmation(r *http.Request, username, email string) {
	tok, err := a.identity.Auth().CreateEmailToken(email)
	if err != nil {
		obs.Logger().Error("email_token_failed", zap.String("email", email), zap.Error(err))
		return
	}
	a.dispatch(r, mail.ConfirmationMessage(a.baseURL, username, email, tok.Value))
}

func (a *API) dispatch(r *http.Request, msg mail.Message) {
	if a.mailer == nil {
		return
	}
	a.mailer.Dispatch(r.Context(), msg)
}
