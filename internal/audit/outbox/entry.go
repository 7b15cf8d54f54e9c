package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Entry is a pending audit event in the outbox table.
type Entry struct {
	ID            uuid.UUID
	AggregateType string // "verification"
	AggregateID   string // verification id
	EventType     string // audit action
	Payload       []byte // JSON-encoded audit.Event
	CreatedAt     time.Time
	ProcessedAt   *time.Time // nil until published
}

func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}
