package config

import "errors"

// ErrInvalidConfig is wrapped with a field-specific message by Validate.
var ErrInvalidConfig = errors.New("invalid config")
