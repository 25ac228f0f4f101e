package identity

import "time"

// User is a registered principal that can log in and obtain a session token.
type User struct {
	ID           string
	Username     string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// Credentials request structure.
type Credentials struct {
	Username string
	Password string
}
