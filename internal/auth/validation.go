package auth

import (
	"regexp"
	"strings"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,15}$`)
	emailPattern    = regexp.MustCompile(`[^@ \t\r\n]+@[^@ \t\r\n]+\.[^@ \t\r\n]+`)
)

const (
	minPasswordLength = 8
	passwordSymbols   = "#?!@$ %^&*-"
)

// Validate checks the registration form field by field and returns the
// first failure.
func (r *RegisterRequest) Validate() *ValidationError {
	switch {
	case !usernamePattern.MatchString(r.Username):
		return &ValidationError{Field: "username", Message: "Username format invalid"}
	case !emailPattern.MatchString(r.Email):
		return &ValidationError{Field: "email", Message: "Email format invalid"}
	case !validPassword(r.Password):
		return &ValidationError{Field: "password", Message: "Password format invalid"}
	}
	return nil
}

// validPassword requires at least eight characters including an upper case
// letter, a lower case letter, a digit and one of passwordSymbols.
func validPassword(p string) bool {
	if len([]rune(p)) < minPasswordLength {
		return false
	}

	var upper, lower, digit, symbol bool
	for _, c := range p {
		switch {
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= '0' && c <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, c):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}
