// Package remap holds the job-scoped identity translation state used during
// restore: entity id remapping and user reference remapping. Both structures
// are single-writer and owned by exactly one processor; they are never shared
// across jobs.
package remap

import (
	"github.com/google/uuid"
)

// GuidMapper translates source entity ids to fresh target ids. The mapping
// is a lazy bijection: the first lookup of an old id generates and records a
// new id, every later lookup returns the same one, and distinct old ids
// never collide because new ids are freshly generated.
//
// A mapper lives for one restore job and is discarded with it, so importing
// the same archive twice produces two disjoint sets of entities.
type GuidMapper struct {
	mapping map[string]string
	// preserveIdentity short-circuits NewID to return the old id unchanged,
	// for same-system re-import of an app that was deleted.
	preserveIdentity bool
}

// NewGuidMapper creates an empty mapper for one restore job.
func NewGuidMapper(preserveIdentity bool) *GuidMapper {
	return &GuidMapper{
		mapping:          make(map[string]string),
		preserveIdentity: preserveIdentity,
	}
}

// NewID returns the target id for oldID, generating and recording a fresh
// one on first encounter.
func (gm *GuidMapper) NewID(oldID string) string {
	if gm.preserveIdentity {
		return oldID
	}
	if newID, ok := gm.mapping[oldID]; ok {
		return newID
	}
	newID := uuid.NewString()
	gm.mapping[oldID] = newID
	return newID
}

// TryGetMapped looks up an existing mapping without generating one.
func (gm *GuidMapper) TryGetMapped(oldID string) (string, bool) {
	if gm.preserveIdentity {
		return oldID, true
	}
	newID, ok := gm.mapping[oldID]
	return newID, ok
}

// Len returns the number of recorded mappings.
func (gm *GuidMapper) Len() int {
	return len(gm.mapping)
}
