package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrStore         = errors.New("auth: store failure")

	// Login outcomes. ErrInvalidCredentials is shared by unknown email and wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrNotConfirmed       = errors.New("auth: email not confirmed")

	// Token outcomes.
	ErrUnauthenticated  = errors.New("auth: unauthenticated")
	ErrInvalidSignature = errors.New("auth: invalid token")
	ErrTokenExpired     = errors.New("auth: token expired")
	ErrInvalidScope     = errors.New("auth: invalid token scope")
	ErrRefreshRevoked   = errors.New("auth: refresh token revoked")
)

// IsTokenError reports whether err means the presented token is unusable,
// as opposed to an infrastructure failure.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrInvalidScope) ||
		errors.Is(err, ErrRefreshRevoked) ||
		errors.Is(err, ErrUnauthenticated)
}
