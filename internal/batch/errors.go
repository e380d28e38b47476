package batch

import "errors"

// ErrInvalidArgument is returned by Append when the session key or URL is missing.
// No state is mutated when it is returned.
var ErrInvalidArgument = errors.New("invalid argument")
