package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists audit events. Implementations that write to a database join
// the transaction carried by ctx.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Publisher stamps events and hands them to the store. It is append-only.
type Publisher struct {
	store Store
	now   func() time.Time
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store, now: time.Now}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	event.Category = event.Action.Category()
	return p.store.Append(ctx, event)
}
