package principal

import (
	"context"
	"fmt"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// Credentials carries what a principal presents at login.
type Credentials struct {
	Username string
	Password string
}

// Authenticator verifies credentials and resolves the principal they
// belong to.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*Principal, error)
}

// LocalAuthenticator validates credentials against the directory's
// stored bcrypt hashes.
type LocalAuthenticator struct {
	directory Directory
}

func NewLocalAuthenticator(directory Directory) *LocalAuthenticator {
	return &LocalAuthenticator{directory: directory}
}

// Authenticate looks up the principal by username and compares the
// password against the stored hash. Unknown user and wrong password
// both return ErrInvalidCredentials so login failures do not reveal
// which usernames exist.
func (a *LocalAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*Principal, error) {
	p, err := a.directory.FindByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "[LocalAuthenticator.Authenticate] directory.FindByUsername")
	}
	if p.Blocked {
		return nil, ErrBlocked
	}
	if !CheckPasswordHash(creds.Password, p.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if err := a.directory.SetLastLogin(ctx, p.Subject); err != nil {
		return nil, errors.Wrap(err, "[LocalAuthenticator.Authenticate] directory.SetLastLogin")
	}
	return p, nil
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
