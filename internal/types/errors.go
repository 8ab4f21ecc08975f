package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrExternalService      = errors.New("external service error")
	ErrAuthExpired          = errors.New("authentication expired")
	ErrSecurityViolation    = errors.New("security violation")
	ErrValidation           = errors.New("validation error")

	ErrUnknownCommand = errors.New("unknown command")
	ErrTimeout        = errors.New("timeout")
)

func Err(typedError error, innerErr error, msgTemplate string, args ...any) error {
	if msgTemplate == "" {
		return errors.Join(typedError, innerErr)
	}
	return errors.Join(typedError, innerErr, fmt.Errorf(msgTemplate, args...))
}
