package types

import (
	"errors"
	"fmt"
)

// TransientFetchError is a retryable provider failure (rate limit, timeout, 5xx).
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch error in %s: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// FatalFetchError is a provider failure that retrying will not fix
// (bad credentials, malformed schema).
type FatalFetchError struct {
	Op  string
	Err error
}

func (e *FatalFetchError) Error() string {
	return fmt.Sprintf("fatal fetch error in %s: %v", e.Op, e.Err)
}

func (e *FatalFetchError) Unwrap() error { return e.Err }

// EmbeddingError reports input the embedder refused or a provider failure.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding error in %s: %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexUnavailableError means the vector store could not be reached or
// answered with a server-side failure.
type IndexUnavailableError struct {
	Op  string
	Err error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("index unavailable in %s: %v", e.Op, e.Err)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Err }

// ConfigurationError is raised at startup for missing credentials or
// mismatched dimensions.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error (%s): %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

var ErrEmptyInput = errors.New("empty input")

func NewTransient(op string, err error) error { return &TransientFetchError{Op: op, Err: err} }
func NewFatal(op string, err error) error     { return &FatalFetchError{Op: op, Err: err} }
func NewEmbedding(op string, err error) error { return &EmbeddingError{Op: op, Err: err} }
func NewIndexUnavailable(op string, err error) error {
	return &IndexUnavailableError{Op: op, Err: err}
}

func NewConfiguration(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

func IsTransient(err error) bool {
	var e *TransientFetchError
	return errors.As(err, &e)
}

func IsFatal(err error) bool {
	var e *FatalFetchError
	return errors.As(err, &e)
}

func IsEmbedding(err error) bool {
	var e *EmbeddingError
	return errors.As(err, &e)
}

func IsIndexUnavailable(err error) bool {
	var e *IndexUnavailableError
	return errors.As(err, &e)
}

func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}
