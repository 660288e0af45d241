// Package password verifies the username and username-password identity
// modes against a bcrypt user table.
package password

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/dicomul/pkg/auth"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

// DefaultBcryptCost is the default cost parameter for bcrypt hashing.
const DefaultBcryptCost = 10

// MinPasswordLength is the minimum required password length.
const MinPasswordLength = 8

// MaxPasswordLength is the maximum allowed password length.
// bcrypt silently truncates at 72 bytes, so we enforce this limit.
const MaxPasswordLength = 72

var (
	// ErrPasswordTooShort is returned when a password is too short.
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")

	// ErrPasswordTooLong is returned when a password is too long.
	ErrPasswordTooLong = errors.New("password must be at most 72 characters")
)

// dummyHash is compared against when the user is unknown so that both
// paths cost one bcrypt comparison.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3ZsEhKCVO8sKkyl/3QCnCVK")

// User is one entry of the user table.
type User struct {
	Username     string `mapstructure:"username" yaml:"username" validate:"required"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash" validate:"required"`
}

// Config configures the password provider.
type Config struct {
	Users []User

	// AllowUsernameOnly accepts the username mode, which carries no secret,
	// for users listed in the table.
	AllowUsernameOnly bool
}

// Provider verifies usernames and passwords.
type Provider struct {
	users             map[string][]byte
	allowUsernameOnly bool
}

// New builds a provider from cfg. Every hash must be a valid bcrypt hash.
func New(cfg Config) (*Provider, error) {
	users := make(map[string][]byte, len(cfg.Users))
	for _, u := range cfg.Users {
		if u.Username == "" {
			return nil, errors.New("user table entry without username")
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user %q: invalid password hash: %w", u.Username, err)
		}
		if _, dup := users[u.Username]; dup {
			return nil, fmt.Errorf("user %q listed twice", u.Username)
		}
		users[u.Username] = []byte(u.PasswordHash)
	}
	return &Provider{users: users, allowUsernameOnly: cfg.AllowUsernameOnly}, nil
}

func (p *Provider) Name() string { return "password" }

func (p *Provider) CanHandle(id *pdu.UserIdentityRQ) bool {
	return id.Mode == pdu.IdentityUsername || id.Mode == pdu.IdentityUsernamePassword
}

func (p *Provider) Authenticate(_ context.Context, id *pdu.UserIdentityRQ) (*auth.Result, error) {
	username := string(id.Primary)
	if username == "" {
		return nil, auth.ErrInvalidCredentials
	}
	hash, known := p.users[username]

	switch id.Mode {
	case pdu.IdentityUsername:
		if !p.allowUsernameOnly || !known {
			return nil, auth.ErrAuthFailed
		}
	case pdu.IdentityUsernamePassword:
		if !known {
			_ = bcrypt.CompareHashAndPassword(dummyHash, id.Secondary)
			return nil, auth.ErrAuthFailed
		}
		if bcrypt.CompareHashAndPassword(hash, id.Secondary) != nil {
			return nil, auth.ErrAuthFailed
		}
	default:
		return nil, auth.ErrUnsupportedMechanism
	}

	return &auth.Result{
		Identity: auth.Identity{Username: username},
		Provider: p.Name(),
	}, nil
}

// HashPassword creates a bcrypt hash of the given password.
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultBcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ValidatePassword checks the length limits.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

var _ auth.Provider = (*Provider)(nil)
