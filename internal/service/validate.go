package service

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"go-identity-service/internal/model"
	"go-identity-service/pkg/apierror"
)

const (
	usernameMinLen = 5
	usernameMaxLen = 20
	passwordMinLen = 5
	passwordMaxLen = 50
	profileMaxLen  = 50
	emailMaxLen    = 254
)

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < usernameMinLen || n > usernameMaxLen {
		return apierror.Validation(model.ErrInvalidInput, "username", "username must be 5 to 20 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return apierror.Validation(model.ErrInvalidInput, "username", "username must not contain whitespace")
	}
	return nil
}

func validatePassword(field, password, confirm string) error {
	n := utf8.RuneCountInString(password)
	if n < passwordMinLen || n > passwordMaxLen {
		return apierror.Validation(model.ErrInvalidInput, field, "password must be 5 to 50 characters")
	}
	if password != confirm {
		return apierror.Validation(model.ErrInvalidInput, "confirm_password", "passwords do not match")
	}
	return nil
}

// normalizeEmail accepts a bare address only, no display name.
func normalizeEmail(raw string) (string, error) {
	email := model.NormalizeEmail(raw)
	if utf8.RuneCountInString(email) > emailMaxLen {
		return "", apierror.Validation(model.ErrInvalidInput, "email", "email address must be at most 254 characters")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apierror.Validation(model.ErrInvalidInput, "email", "email address is invalid")
	}
	return email, nil
}

func validateProfileField(field, value string) error {
	if utf8.RuneCountInString(value) > profileMaxLen {
		return apierror.Validation(model.ErrInvalidInput, field, field+" must be at most 50 characters")
	}
	return nil
}
