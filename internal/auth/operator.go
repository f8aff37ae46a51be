// Package auth guards the mutating control endpoints with a single bcrypt
// operator credential.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"crossdeck/internal/config"
)

// Cost is the bcrypt work factor for new hashes
const Cost = 12

var ErrInvalidCredentials = errors.New("invalid credentials")

// Operator checks basic-auth credentials against the configured hash
type Operator struct {
	username string
	hash     []byte
	enabled  bool
}

// NewOperator creates an operator check from the server configuration.
// An empty password hash disables authentication.
func NewOperator(cfg *config.ServerConfig) (*Operator, error) {
	if cfg.AdminPasswordHash == "" {
		return &Operator{enabled: false}, nil
	}
	if !IsHashedPassword(cfg.AdminPasswordHash) {
		return nil, fmt.Errorf("admin password hash is not a bcrypt hash")
	}
	if _, err := bcrypt.Cost([]byte(cfg.AdminPasswordHash)); err != nil {
		return nil, fmt.Errorf("invalid admin password hash: %w", err)
	}
	return &Operator{
		username: cfg.AdminUser,
		hash:     []byte(cfg.AdminPasswordHash),
		enabled:  true,
	}, nil
}

// IsEnabled returns whether authentication is enabled
func (o *Operator) IsEnabled() bool {
	return o.enabled
}

// Authenticate checks if the provided username and password are valid
func (o *Operator) Authenticate(username, password string) error {
	if !o.enabled {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(o.username)) != 1 {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(o.hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword hashes a plaintext password using bcrypt
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IsHashedPassword checks if a string looks like a bcrypt hash
func IsHashedPassword(password string) bool {
	// bcrypt hashes have a specific format: $2a$, $2b$, $2x$, or $2y$ followed by cost and salt
	return len(password) >= 4 &&
		password[0] == '$' &&
		password[1] == '2' &&
		(password[2] == 'a' || password[2] == 'b' || password[2] == 'x' || password[2] == 'y') &&
		password[3] == '$'
}
