package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConsistency marks identifier/vector count or identity mismatches.
	// It is always fatal for the affected run or query.
	ErrConsistency = errors.New("consistency error")
	// ErrStoreNotLoaded is returned by queries before a vector store is loaded.
	ErrStoreNotLoaded = errors.New("vector store not loaded")
	// ErrEmptyQuery is returned for blank query text.
	ErrEmptyQuery = errors.New("query cannot be empty")
)

// ConsistencyError reports a mismatch between counts that must agree.
type ConsistencyError struct {
	Op       string
	Expected int
	Actual   int
	Detail   string
}

func (e *ConsistencyError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: consistency error: expected %d, got %d (%s)", e.Op, e.Expected, e.Actual, e.Detail)
	}
	return fmt.Sprintf("%s: consistency error: expected %d, got %d", e.Op, e.Expected, e.Actual)
}

// Is reports whether target is ErrConsistency.
func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistency
}

// EmbeddingCallError wraps a failure of the embedding model for one chunk.
type EmbeddingCallError struct {
	Chunk int
	Err   error
}

func (e *EmbeddingCallError) Error() string {
	return fmt.Sprintf("embedding call failed for chunk %d: %v", e.Chunk, e.Err)
}

func (e *EmbeddingCallError) Unwrap() error {
	return e.Err
}
