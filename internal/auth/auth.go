// Package auth hashes and checks account passwords.
package auth

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/messenger/internal/domain"
)

// Credentials is the body of the register and login endpoints.
type Credentials struct {
	Username string `json:"username" validate:"required,max=32"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the credential shape. Failures wrap ErrInvalidOperation.
func (c Credentials) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", domain.ErrInvalidOperation, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidOperation, err)
	}
	if c.Username == domain.ServerSender {
		return fmt.Errorf("%w: %s is reserved", domain.ErrNameTaken, c.Username)
	}
	return nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports ErrInvalidCredentials when password does not match hash.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return domain.ErrInvalidCredentials
	}
	return nil
}
