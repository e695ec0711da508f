package store

import (
	"github.com/oklog/ulid/v2"
)

// NewMessageID generates a new ULID-based message identifier. IDs created by
// one process are strictly increasing.
func NewMessageID() string {
	return ulid.Make().String()
}
