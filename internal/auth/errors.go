package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidSetupToken  = errors.New("invalid setup token")
	ErrSetupDisabled      = errors.New("setup disabled")
	// ErrStorageUnavailable marks failures that should be retried by the
	// client, as opposed to authentication denials.
	ErrStorageUnavailable = errors.New("credential store unavailable")
)

type ErrLoginLocked struct {
	Remaining time.Duration
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
