package bot

import "errors"

// ErrInvalid marks client input the service refuses to act on.
var ErrInvalid = errors.New("invalid input")
