package event

import (
	"context"
)

// Iterator is a lazy, forward-only, single-pass sequence of envelopes in
// global commit order. It follows the bufio.Scanner shape: Next advances,
// Err reports the terminal error once Next returns false.
type Iterator interface {
	Next() bool
	Envelope() Envelope
	Err() error
	Close() error
}

// Store is the live event store collaborator. Both operations observe global
// commit order; Append preserves the order of calls.
type Store interface {
	// ReadAllForApp returns every event belonging to the app, ordered by
	// global commit sequence. The iterator streams and is not restartable.
	ReadAllForApp(ctx context.Context, appID string) (Iterator, error)

	// Append appends an envelope to the given stream. Event numbers within
	// one stream must be non-decreasing across calls.
	Append(ctx context.Context, stream string, env Envelope) error
}
