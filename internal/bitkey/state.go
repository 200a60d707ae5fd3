package bitkey

import "fmt"

// State is a key's position in its lifecycle lattice. Transitions only
// move forward; spec.md's data model has no path back from a later state
// to an earlier one.
type State int

const (
	// StateRaw is unprocessed material, not yet sifted or reconciled.
	StateRaw State = iota
	// StateSifted has passed basis reconciliation (upstream of Cascade;
	// carried for traceability even though BB84 sifting itself is out of
	// scope for this module).
	StateSifted
	// StateReconciled has been through Cascade and is believed identical
	// on both sides.
	StateReconciled
	// StateConfirmed has passed a post-reconciliation confirmation check
	// (e.g. a parity/hash comparison of the full reconciled key).
	StateConfirmed
	// StateAuthenticated has been used to key (or been verified by) a
	// universal-hash authentication context.
	StateAuthenticated
	// StateDisclosed has had some or all of its bits revealed on the
	// classical channel and must not be reused as secret material.
	StateDisclosed
)

func (s State) String() string {
	switch s {
	case StateRaw:
		return "raw"
	case StateSifted:
		return "sifted"
	case StateReconciled:
		return "reconciled"
	case StateConfirmed:
		return "confirmed"
	case StateAuthenticated:
		return "authenticated"
	case StateDisclosed:
		return "disclosed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CanAdvanceTo reports whether transitioning from s to next is a legal
// forward move in the lattice. Disclosure is reachable from any state
// (bits can leak at any point via a protocol failure) but no state is
// reachable from Disclosed.
func (s State) CanAdvanceTo(next State) bool {
	if s == StateDisclosed {
		return false
	}
	if next == StateDisclosed {
		return true
	}
	return next > s
}

// Meta holds the lifecycle metadata attached to a key alongside its bits.
type Meta struct {
	ID          uint64
	State       State
	UseCount    uint32
	RealSync    bool // both peers agree this key materialized from the same source
	Eventual    bool // real-sync not yet confirmed but expected to converge

	// DisclosedBits is the number of parity bits revealed over the
	// classical channel while reconciling this key — spec.md §4.3's
	// disclosed-bits field, fed by a Cascade run's transmitted parities.
	DisclosedBits uint64

	// ErrorRate is |corrected|/nbits for this key's reconciliation run —
	// spec.md §4.3's error-rate field.
	ErrorRate float64
}

// Advance transitions m to next, returning an error if the move is illegal.
func (m *Meta) Advance(next State) error {
	if !m.State.CanAdvanceTo(next) {
		return fmt.Errorf("bitkey: illegal transition %s -> %s for key %d", m.State, next, m.ID)
	}
	m.State = next
	return nil
}
