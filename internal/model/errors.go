package model

import (
	"errors"
	"fmt"
)

var (
	// Authentication and token errors
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrTokenExpired         = errors.New("token expired")
	ErrSessionNotFound      = errors.New("session not found")

	// Registration errors
	ErrInvalidCode    = errors.New("invalid verification code")
	ErrConflict       = errors.New("account already exists")
	ErrDeliveryFailed = errors.New("verification code delivery failed")

	// User related errors
	ErrUserNotFound       = errors.New("user not found")
	ErrBirthdayAlreadySet = errors.New("birthday can only be set once")

	// Infrastructure errors
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)

// ConflictError names the unique field that collided. It matches ErrConflict.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s is already taken", ErrConflict.Error(), e.Field)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
