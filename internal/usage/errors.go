package usage

import "errors"

var (
	// ErrLimitReached means the weekly analysis quota is spent.
	ErrLimitReached = errors.New("weekly analysis limit reached")
	ErrMissingUser  = errors.New("user id is required")
)
