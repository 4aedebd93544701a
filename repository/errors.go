package repository

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller input validation. These are rejected before any
// external call is attempted.
var (
	ErrInvalidQuery  = errors.New("invalid query")
	ErrInvalidSource = errors.New("invalid source")
	ErrNotFound      = errors.New("not found")
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// FetchError wraps a transport or parse failure inside a source adapter.
type FetchError struct {
	Source string
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Source, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MalformedDocument marks a raw document rejected during normalization.
type MalformedDocument struct {
	Source string
	ID     string
	Reason string
}

func (e *MalformedDocument) Error() string {
	return fmt.Sprintf("malformed document %s/%s: %s", e.Source, e.ID, e.Reason)
}

// EmbeddingError wraps an embedding provider failure after retry exhaustion.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding (%s): %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StoreError marks a persistence failure, distinct from an empty result set
// which is a valid successful response.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
