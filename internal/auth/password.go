package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// passwordCost is lowered by tests through SetPasswordCostForTests.
var passwordCost = bcrypt.DefaultCost

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash. A mismatch yields
// ErrInvalidCredentials.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	return err
}

// SetPasswordCostForTests switches hashing to the minimum bcrypt cost. Only intended for test use.
func SetPasswordCostForTests() {
	passwordCost = bcrypt.MinCost
}
