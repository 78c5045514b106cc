// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package ptqdm

import (
	"errors"
	"fmt"

	"vawter.tech/ptqdm/pool"
)

var (
	// ErrInvalidConfig matches every [ConfigError] via [errors.Is].
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConsumed is yielded if a result sequence is iterated twice.
	ErrConsumed = errors.New("result sequence already consumed")
)

// A ConfigError is returned synchronously, before any worker starts,
// when a [Config] cannot be used.
type ConfigError struct {
	Field string
	Err   error
}

// Error implements error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Err)
}

// Is matches [ErrInvalidConfig].
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// Unwrap returns the enclosed error.
func (e *ConfigError) Unwrap() error { return e.Err }

// A WorkerError reports the first item whose function failed.
type WorkerError = pool.WorkerError

// A TeardownError reports that the pool could not be released cleanly.
// It is only surfaced when no other error has been reported.
type TeardownError struct {
	Err error
}

// Error implements error.
func (e *TeardownError) Error() string {
	return fmt.Sprintf("pool teardown: %v", e.Err)
}

// Unwrap returns the enclosed error.
func (e *TeardownError) Unwrap() error { return e.Err }
