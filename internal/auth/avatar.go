package auth

import (
	"crypto/md5"
	"encoding/hex"
)

// GravatarURL returns the identicon avatar for email. Gravatar keys on the MD5 of the address.
func GravatarURL(email string) string {
	sum := md5.Sum([]byte(normalizeEmail(email)))
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=identicon"
}
