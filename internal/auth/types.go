package auth

import "time"

// Role is the coarse permission level attached to an account.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleUser:
		return true
	}
	return false
}

// Credential is the durable account row. RefreshToken is the only refresh token
// currently accepted for the account; nil means none.
type Credential struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Confirmed    bool
	RefreshToken *string
	Avatar       string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Public returns the snapshot that is safe to cache and to serialize to clients.
func (c *Credential) Public() User {
	return User{
		ID:        c.ID,
		Username:  c.Username,
		Email:     c.Email,
		Avatar:    c.Avatar,
		Role:      c.Role,
		Confirmed: c.Confirmed,
		CreatedAt: c.CreatedAt,
	}
}

// User is the identity returned to request handlers.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar,omitempty"`
	Role      Role      `json:"role"`
	Confirmed bool      `json:"confirmed"`
	CreatedAt time.Time `json:"created_at"`
}

// Token is a signed value together with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	Access  Token
	Refresh Token
}

// SignupInput carries the fields accepted at registration.
type SignupInput struct {
	Username string
	Email    string
	Password string
}
