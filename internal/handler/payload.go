package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"eventvault/internal/event"
)

// Payload rewriting helpers. Payloads are opaque to the processors, but the
// built-in entity kinds share a JSON object shape, so handlers decode to a
// generic map, rewrite the fields they know carry ids or user references,
// and re-encode.

func decodePayload(env event.Envelope) (map[string]interface{}, error) {
	if len(env.Payload) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		return nil, fmt.Errorf("stream %s event %d: malformed payload: %w", env.Stream, env.EventNumber, err)
	}
	return m, nil
}

func encodePayload(env *event.Envelope, m map[string]interface{}) error {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("stream %s event %d: failed to encode payload: %w", env.Stream, env.EventNumber, err)
	}
	env.Payload = data
	return nil
}

// remapStringField rewrites a single string field in place.
func remapStringField(m map[string]interface{}, key string, remapFn func(string) string) {
	if m == nil {
		return
	}
	if v, ok := m[key].(string); ok && v != "" {
		m[key] = remapFn(v)
	}
}

// remapStringListField rewrites every string element of a list field.
func remapStringListField(m map[string]interface{}, key string, remapFn func(string) string) {
	if m == nil {
		return
	}
	list, ok := m[key].([]interface{})
	if !ok {
		return
	}
	for i, elem := range list {
		if s, ok := elem.(string); ok && s != "" {
			list[i] = remapFn(s)
		}
	}
}

// remapUserField rewrites a user reference field through the job's user
// mapping.
func remapUserField(ctx context.Context, m map[string]interface{}, key string, rc *RestoreContext) error {
	if m == nil {
		return nil
	}
	v, ok := m[key].(string)
	if !ok || v == "" {
		return nil
	}
	mapped, err := rc.Users.MapUser(ctx, v)
	if err != nil {
		return err
	}
	m[key] = mapped
	return nil
}
