package offline

import (
	"errors"
	"time"
)

// ErrStorageUnavailable indicates the storage collaborator could not
// persist or retrieve items.
var ErrStorageUnavailable = errors.New("offline: storage unavailable")

// Item is the durable envelope for one buffered record.
//
// The payload is opaque to the buffer: the dispatcher serializes the
// already-enriched, already-scrubbed record and decodes it again on replay.
type Item struct {
	// ID is unique and sorts in insertion order, giving oldest-first
	// retrieval.
	ID string

	// Kind tags the record variant so replay can decode the payload.
	Kind string

	Payload    []byte
	EnqueuedAt time.Time

	// RetryCount is the number of failed replay attempts so far. It only
	// ever grows; the buffer removes the item once it exceeds the retry
	// cap.
	RetryCount int
}

// Storage persists buffered items. Implementations must return items oldest
// first and must be safe for concurrent use.
type Storage interface {
	Initialize() error

	// Store inserts the item, or updates it in place when an item with the
	// same ID exists. Updates keep the item's position in retrieval order.
	Store(item Item) error

	// Retrieve returns up to limit items, oldest first. A non-positive
	// limit returns everything.
	Retrieve(limit int) ([]Item, error)

	Remove(id string) error
	Count() (int, error)
	Clear() error
	Dispose() error
}
