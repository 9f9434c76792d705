package tinyslice

import "github.com/google/uuid"

// RequestIDGenerator produces the correlation ID stamped on the lifecycle
// actions of one async invocation.
type RequestIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 request IDs, so request IDs
// in a trace sort by start time.
//
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7. It panics if the system random
// source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
