package repository

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrNoSeatsAvailable = errors.New("no seats available")
	ErrNotPending       = errors.New("registration is not pending")
)
