// Package credentials holds the username and password policies and the
// password hashing used by storage.
package credentials

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinUsernameLength = 4
	MaxUsernameLength = 10

	// MaxPasswordBytes is the longest input bcrypt hashes in full.
	MaxPasswordBytes = 72

	// Each class must appear at least this many times in a password.
	minPasswordClass = 3
)

// PasswordSymbols is the punctuation counted towards the symbol class.
const PasswordSymbols = `!@#"'$;%^:&?*()[].,{}`

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidPassword = errors.New("invalid password")
)

// ValidateUsername accepts 4 to 10 ASCII letters, digits or underscores.
func ValidateUsername(name string) error {
	if len(name) < MinUsernameLength || len(name) > MaxUsernameLength {
		return ErrInvalidUsername
	}
	for _, r := range name {
		if !isASCIILetter(r) && !isASCIIDigit(r) && r != '_' {
			return ErrInvalidUsername
		}
	}
	return nil
}

// ValidatePassword requires at least three digits, three letters and
// three symbols from PasswordSymbols, in at most MaxPasswordBytes bytes.
func ValidatePassword(password string) error {
	if len(password) > MaxPasswordBytes {
		return ErrInvalidPassword
	}
	var digits, letters, symbols int
	for _, r := range password {
		switch {
		case isASCIIDigit(r):
			digits++
		case isASCIILetter(r):
			letters++
		case strings.ContainsRune(PasswordSymbols, r):
			symbols++
		}
	}
	if digits < minPasswordClass || letters < minPasswordClass || symbols < minPasswordClass {
		return ErrInvalidPassword
	}
	return nil
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func isASCIILetter(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsLetter(r)
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
