package types

import "errors"

// Sentinel errors for common error conditions.
var (
	// ErrNotFound is returned when a requested model or entity is absent.
	ErrNotFound = errors.New("not found")

	// ErrCorruptData is returned when persisted content fails to parse.
	ErrCorruptData = errors.New("corrupt data")

	// ErrInvalidConfig is returned when configuration is invalid or the
	// repository strategy and vector provider combination is not allowed.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidKey is returned when an entity key component is blank or
	// normalizes to nothing.
	ErrInvalidKey = errors.New("invalid entity key")

	// ErrProviderNotAvailable is returned when a provider is not registered
	// or not reachable.
	ErrProviderNotAvailable = errors.New("provider not available")

	// ErrEmbeddingFailed is returned when embedding generation fails or
	// yields an empty vector.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrStoreFailed is returned when a persistence write fails.
	ErrStoreFailed = errors.New("store operation failed")

	// ErrIndexWriteFailed is returned when a vector index upsert fails
	// after the entity was persisted.
	ErrIndexWriteFailed = errors.New("index write failed")

	// ErrSearchFailed is returned when a similarity search fails.
	ErrSearchFailed = errors.New("search failed")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled is returned when an operation is cancelled.
	ErrCancelled = errors.New("operation cancelled")
)
