package config

import "errors"

// ErrInvalidConfig is wrapped by every configuration validation failure.
// Components also wrap it when rejecting their own settings at start-up.
var ErrInvalidConfig = errors.New("config: invalid configuration")
