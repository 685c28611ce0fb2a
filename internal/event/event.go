// Package event defines the envelope type shared by the live event store and
// the backup archive, plus the event-store collaborator interfaces consumed
// by the backup and restore processors.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StreamID identifies one entity's event stream as "<kind>/<id>".
// The kind tag selects the backup handler responsible for the entity type.
type StreamID struct {
	Kind string
	ID   string
}

// ParseStreamID splits a "<kind>/<id>" stream tag.
func ParseStreamID(s string) (StreamID, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok || kind == "" || id == "" {
		return StreamID{}, fmt.Errorf("malformed stream id %q: expected <kind>/<id>", s)
	}
	return StreamID{Kind: kind, ID: id}, nil
}

// String returns the canonical "<kind>/<id>" form.
func (s StreamID) String() string {
	return s.Kind + "/" + s.ID
}

// Metadata carries the bookkeeping attached to every envelope.
type Metadata struct {
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Actor         string    `json:"actor,omitempty"`
	AppID         string    `json:"app_id,omitempty"`
}

// Envelope is one immutable record of a past state change on an entity
// stream. Payload stays opaque to everything except the entity-kind handler.
type Envelope struct {
	Stream      string          `json:"stream"`
	EventNumber int64           `json:"event_number"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Metadata    Metadata        `json:"metadata"`
}

// StreamID parses the envelope's stream tag.
func (e Envelope) StreamID() (StreamID, error) {
	return ParseStreamID(e.Stream)
}

// Validate checks the structural invariants of an envelope.
func (e Envelope) Validate() error {
	if _, err := ParseStreamID(e.Stream); err != nil {
		return err
	}
	if e.EventNumber < 0 {
		return fmt.Errorf("stream %s: negative event number %d", e.Stream, e.EventNumber)
	}
	if e.Type == "" {
		return fmt.Errorf("stream %s: event type is required", e.Stream)
	}
	return nil
}
