package remap

import (
	"context"

	"eventvault/internal/users"
)

// PlaceholderUser is the shared identity unresolved source users map to, so
// authorship is preserved as "restored, unknown author" instead of being
// dropped or failing the restore.
const PlaceholderUser = "backup-user"

// UserMapping translates source user references to target user references
// for one restore job. References that resolve in the target user directory
// keep their resolved identity; unresolved references bind permanently (for
// the job) to the placeholder user, and the binding is reported exactly once
// per distinct unresolved user through the note callback.
type UserMapping struct {
	directory users.Directory
	mapping   map[string]string
	// note records a human-readable job log line; may be nil.
	note func(message string)
}

// NewUserMapping creates an empty mapping for one restore job.
func NewUserMapping(directory users.Directory, note func(message string)) *UserMapping {
	return &UserMapping{
		directory: directory,
		mapping:   make(map[string]string),
		note:      note,
	}
}

// MapUser returns the target reference for oldRef. An empty reference maps
// to itself: events without an actor stay without one.
func (um *UserMapping) MapUser(ctx context.Context, oldRef string) (string, error) {
	if oldRef == "" {
		return "", nil
	}
	if newRef, ok := um.mapping[oldRef]; ok {
		return newRef, nil
	}

	ref, found, err := um.directory.Resolve(ctx, oldRef)
	if err != nil {
		return "", err
	}
	if !found {
		ref = PlaceholderUser
		if um.note != nil {
			um.note("user " + oldRef + " could not be resolved in the target system, mapped to " + PlaceholderUser)
		}
	}

	um.mapping[oldRef] = ref
	return ref, nil
}

// Len returns the number of recorded user mappings.
func (um *UserMapping) Len() int {
	return len(um.mapping)
}
