package auth

import "time"

// Token is an issued API token. Only the SHA-256 digest of the secret
// is persisted; the plaintext is returned once at login.
type Token struct {
	Digest    string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}
