package service

import (
	"net/mail"
	"regexp"
	"unicode"
)

// Nicknames are 2-20 characters from a restricted charset; they double as
// public handles and login identifiers.
var nicknamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]{2,20}$`)

func validateNickname(v *ValidationError, nickname string) {
	if !nicknamePattern.MatchString(nickname) {
		v.add("nickname", "must be 2-20 characters of letters, digits, underscore or dot")
	}
}

func validateEmail(v *ValidationError, email string) {
	if email == "" {
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		v.add("email", "must be a valid email address")
	}
}

func validatePassword(v *ValidationError, password string) {
	if len(password) < 6 {
		v.add("password", "must be at least 6 characters")
		return
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		v.add("password", "must contain an uppercase letter, a lowercase letter and a digit")
	}
}
