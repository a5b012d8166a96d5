package pubsub

import "github.com/google/uuid"

// IDGenerator names sync runs so their log lines can be grouped.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator returns time-sortable UUIDv7 run ids.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
