// Package keydb implements the Q3P Key-DB: a window of fixed-size key
// slots addressed by monotonically increasing IDs, with atomic
// reserve-then-delete/rollback discipline so concurrent LOAD/LOAD-REQUEST
// rounds never hand out the same key twice.
package keydb

import "github.com/aitqkd/q3pcore/internal/bitkey"

// SlotState is where a key slot sits in the Key-DB's lifecycle lattice.
type SlotState int

const (
	// SlotFree holds no key; it is a receptacle waiting to be filled.
	SlotFree SlotState = iota
	// SlotReserved has been claimed by an in-flight find_* call and must
	// be followed by Delete (commit) or SetKeyCount(..., 0) (rollback).
	SlotReserved
	// SlotReal holds genuine key material moved here from a peer
	// exchange or reconciliation.
	SlotReal
	// SlotInjected holds key material supplied directly by an operator
	// (inline bytes or a file URL), bypassing peer exchange.
	SlotInjected
)

// Slot is one addressable key-store entry.
type Slot struct {
	ID       uint64
	State    SlotState
	Key      *bitkey.Key
	RealSync bool // both peers agree this slot holds the same material
	Eventual bool // real-sync expected but not yet confirmed
	UseCount uint32
}

// Valid reports whether the slot is real-sync and present — the Key-DB's
// `valid(id)` predicate.
func (s *Slot) Valid() bool {
	return s != nil && s.Key != nil && s.RealSync && (s.State == SlotReal || s.State == SlotInjected)
}

// ChargeListener is notified whenever a Key-DB's populated slot count
// changes, with the number of slots added and removed.
type ChargeListener func(added, removed uint64)

// KeyDB is the Key-DB operation surface shared by the Common Store and
// the three buffer Key-DBs (Incoming, Outgoing, Application).
type KeyDB interface {
	// Insert assigns the lowest free ID in the window to key and marks
	// the slot SlotReal, failing if the window is exhausted.
	Insert(key *bitkey.Key) (id uint64, err error)

	// Get returns the key at id, or a nil key if id is unknown.
	Get(id uint64) (*bitkey.Key, error)

	// Set overwrites the key at id without touching its slot state —
	// for rewriting already-real key material in place. If id holds no
	// slot yet, Set creates one as SlotReal and real-sync.
	Set(id uint64, key *bitkey.Key) error

	// SetReal populates id with key and marks the slot SlotReal,
	// real-sync, use-counter 0 — the operation LOAD/LOAD-ACK use to turn
	// a reserved-but-empty receptacle (from FindSpare) into a genuine,
	// immediately usable key slot.
	SetReal(id uint64, key *bitkey.Key) error

	// Del marks id free, clearing its key material.
	Del(id uint64) error

	// Valid reports whether id is real-sync and present.
	Valid(id uint64) bool

	// FindValid selects real-sync, unused (UseCount==0) slots summing to
	// at least bytes worth of Quantum, bumping each selected slot's
	// UseCount by counterStep atomically, and returns their IDs in
	// ascending order.
	FindValid(bytes uint64, counterStep uint32) ([]uint64, error)

	// FindSpare selects free slots to serve as receptacles for incoming
	// key material, under the same accounting discipline as FindValid.
	FindSpare(bytes uint64, counterStep uint32) ([]uint64, error)

	// FindContinuous is like FindValid but additionally requires the
	// returned IDs to form one contiguous run — used by the channel
	// pipeline to draw real key material for encryption/authentication,
	// where recording a single starting key ID in the wire header implies
	// the rest of the run follows sequentially.
	FindContinuous(bytes uint64, counterStep uint32) ([]uint64, error)

	// SetKeyCount resets the UseCount of every listed slot to n — n=0
	// is the rollback path for an aborted find_*/reserve round.
	SetKeyCount(ids []uint64, n uint32) error

	// Count reports the number of currently populated slots.
	Count() uint64

	// Amount reports the maximum number of slots the window can hold.
	Amount() uint64

	// Quantum is the fixed byte size of one slot's key material.
	Quantum() uint64

	// MinID/MaxID report the current window bounds.
	MinID() uint64
	MaxID() uint64

	// OnChargeChange registers a listener invoked after every operation
	// that changes the populated slot count.
	OnChargeChange(l ChargeListener)

	// Close releases any backing resources (file handles, etc).
	Close() error
}
