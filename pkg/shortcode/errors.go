package shortcode

import "errors"

var (
	// ErrNotFound is returned by Store.Read when no entry exists for a key.
	ErrNotFound = errors.New("shortcode: fragment not found")
	// ErrInvalidArgument marks a caller contract violation, such as a
	// non-string argument value or a malformed key.
	ErrInvalidArgument = errors.New("shortcode: invalid argument")
	// ErrStorage marks a failure of the cache directory itself.
	ErrStorage = errors.New("shortcode: storage failure")
)
