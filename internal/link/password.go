package link

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/MagnunAVF/link-engine/internal"
)

func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares in constant time. Links without a password never match.
func CheckPassword(l *internal.Link, plain string) bool {
	if !l.HasPassword() {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*l.PasswordHash), []byte(plain)) == nil
}
