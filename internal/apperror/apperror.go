// Package apperror defines the domain errors shared by the action host and the
// monitor feed. Handlers translate them into HTTP status codes; services and
// storage code only ever return them.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("Validation Error")
	ErrPathViolation = errors.New("path violation")
	ErrUnavailable   = errors.New("unavailable")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// InvalidScratchPath reports a path handed to the publisher that does not lie
// under the scratch root. The message names the caller-supplied path and the
// configured root.
func InvalidScratchPath(path, root string) *AppError {
	return &AppError{
		Err:     ErrPathViolation,
		Message: fmt.Sprintf("generated file %q must be inside %s", path, root),
		Field:   "path",
	}
}

// SymlinkRefused reports a generated entry that is, or contains, a symbolic
// link or other special file. Only plain files and directories are published.
func SymlinkRefused(path string) *AppError {
	return &AppError{
		Err:     ErrPathViolation,
		Message: fmt.Sprintf("generated file %q is not a regular file or directory", path),
		Field:   "path",
	}
}

// PrefixMismatch reports a public URL that was not issued by this host.
func PrefixMismatch(url string) *AppError {
	return &AppError{
		Err:     ErrPathViolation,
		Message: fmt.Sprintf("url %q does not match the public url prefix", url),
		Field:   "url",
	}
}

// Unavailable reports a dependency (execution engine, docker daemon) that
// cannot serve the request right now.
func Unavailable(what string) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: fmt.Sprintf("%s is unavailable", what),
	}
}
