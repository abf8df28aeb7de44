package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a conditional write lost against a concurrent change.
	ErrConflict = errors.New("repository: conflict")
	// ErrDuplicateUsername indicates the username is already taken.
	ErrDuplicateUsername = errors.New("repository: duplicate username")
	// ErrDuplicateEmail indicates the email is already registered.
	ErrDuplicateEmail = errors.New("repository: duplicate email")
	// ErrDuplicatePhone indicates the phone number is already registered.
	ErrDuplicatePhone = errors.New("repository: duplicate phone number")
)
