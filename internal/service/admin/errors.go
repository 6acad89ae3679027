package admin

import (
	"errors"
)

var (
	ErrEventConflict = errors.New("event already exists")
	ErrEventNotFound = errors.New("event not found")
	ErrInvalidEvent  = errors.New("invalid event")
)
