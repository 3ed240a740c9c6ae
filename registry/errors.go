package registry

import "github.com/pkg/errors"

var (
	ErrUserExists       = errors.New("user already exists")
	ErrUserNotFound     = errors.New("user not found")
	ErrAlreadyConnected = errors.New("user already connected")
	ErrNotConnected     = errors.New("user not connected")
	ErrFileExists       = errors.New("file already published")
	ErrFileNotFound     = errors.New("file not found")

	// ErrCapacity is returned when a table has reached its configured limit.
	ErrCapacity = errors.New("registry full")
)
