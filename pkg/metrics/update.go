// Package metrics holds the canonical Update record and the session-scoped
// Store that folds updates into the current metric snapshot, the bounded
// recent-updates window, and the unbounded audit log.
package metrics

import "time"

// Type classifies an update by the institutional metric family it touches.
type Type string

const (
	TypeEnrollment Type = "enrollment"
	TypeAttendance Type = "attendance"
	TypeFees       Type = "fees"
	TypeMarks      Type = "marks"
	TypePlacement  Type = "placement"
	TypeOther      Type = "other"
)

// Valid reports whether t is one of the closed set of metric types.
func (t Type) Valid() bool {
	switch t {
	case TypeEnrollment, TypeAttendance, TypeFees, TypeMarks, TypePlacement, TypeOther:
		return true
	}
	return false
}

// SystemAuthor is the synthetic author id for automated and simulated
// updates.
const SystemAuthor = "system"

// Update is the atomic, immutable fact flowing through the system: one
// metric's change with authorship and optional before/after values.
//
// Previous and Change are pointers because "no known prior value" and
// "unknown percentage change" are distinct from zero.
type Update struct {
	// ID is assigned at publish time by the publisher, so an update is
	// identifiable before the feed round-trips it.
	ID string

	// Timestamp is when the backing store accepted the update, not the
	// client wall clock at creation.
	Timestamp time.Time

	AuthorID   string
	AuthorName string
	AuthorRole string

	// Type and Name scope the metric; uniqueness of meaning is scoped to
	// (Type, Name, Department).
	Type Type
	Name string

	Previous *float64
	New      float64

	// Change is the percentage change, derived from Previous and New.
	// Nil means undefined, never "zero change".
	Change *float64

	// Department is an optional scoping dimension; empty means
	// institution-wide.
	Department string

	// Period optionally names the billing month label ("Jan".."Dec")
	// targeted by a fees update. Empty falls back to the current
	// calendar month at apply time.
	Period string

	// Seq is the backing store's commit sequence. Zero means unknown, in
	// which case arrival order is trusted as apply order.
	Seq uint64
}

// ComputeChange derives the percentage change between previous and
// newValue. It returns nil when previous is absent or zero, since the
// change is undefined in both cases.
func ComputeChange(previous *float64, newValue float64) *float64 {
	if previous == nil || *previous == 0 {
		return nil
	}
	change := (newValue - *previous) / *previous * 100
	return &change
}
