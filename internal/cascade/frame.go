package cascade

import (
	"sync"

	"github.com/aitqkd/q3pcore/internal/bitkey"
)

// Checker is the notification surface a Frame drives whenever a bit
// changes: every ParityChecker registered with a Frame implements this so
// the frame can keep every pass's bookkeeping in sync without the passes
// holding a reference back into each other.
type Checker interface {
	NotifyBitChangeLocal(pos uint64)
	NotifyBitChangeRemote(pos uint64)
	NotifyCorrectBit(pos uint64)
}

// Frame owns the working copy of a key being reconciled by Cascade and
// fans out bit-change notifications to every pass (ParityChecker) that has
// registered interest, breaking the cyclic ownership a direct
// pass-to-pass reference graph would otherwise need: passes only ever
// talk to the frame, never to each other directly.
type Frame struct {
	mu sync.Mutex

	key *bitkey.Key

	checkers []Checker

	correctBits   map[uint64]struct{} // bits known correct (original index space)
	correctedBits map[uint64]struct{} // bits actually corrected this run

	transmittedMessages uint64
	transmittedParities uint64

	meta *bitkey.Meta
}

// NewFrame wraps key for one Cascade run. The frame takes ownership of
// key's bit storage — callers must not mutate key concurrently.
func NewFrame(key *bitkey.Key) *Frame {
	return &Frame{
		key:           key,
		correctBits:   make(map[uint64]struct{}),
		correctedBits: make(map[uint64]struct{}),
		meta:          &bitkey.Meta{State: bitkey.StateRaw},
	}
}

// Key returns the frame's working key.
func (f *Frame) Key() *bitkey.Key { return f.key }

// Meta returns the key's lifecycle metadata, stamped with disclosed-bits,
// error-rate, and state once Driver.Run completes.
func (f *Frame) Meta() *bitkey.Meta {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meta
}

// AddChecker registers a pass to receive bit-change notifications.
func (f *Frame) AddChecker(c Checker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkers = append(f.checkers, c)
}

// RemoveChecker unregisters a pass.
func (f *Frame) RemoveChecker(c Checker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cc := range f.checkers {
		if cc == c {
			f.checkers = append(f.checkers[:i], f.checkers[i+1:]...)
			return
		}
	}
}

// FlipBit inverts the bit at pos (Bob's side, on discovering a local
// error) and records it as corrected.
func (f *Frame) FlipBit(pos uint64) {
	if pos >= uint64(f.key.Len()) {
		return
	}
	f.SetBit(pos, f.key.GetBit(int(pos))^1 == 1)
	f.mu.Lock()
	f.correctedBits[pos] = struct{}{}
	f.mu.Unlock()
}

// SetBit changes the bit at pos to bit and notifies every checker, unless
// the value is already what's stored (matching the original's no-op
// short-circuit so unrelated passes don't get spurious notifications).
func (f *Frame) SetBit(pos uint64, bit bool) {
	if pos >= uint64(f.key.Len()) {
		return
	}
	var v byte
	if bit {
		v = 1
	}
	if f.key.GetBit(int(pos)) == v {
		return
	}
	f.key.SetBit(int(pos), v)
	f.mu.Lock()
	checkers := append([]Checker(nil), f.checkers...)
	f.mu.Unlock()
	for _, c := range checkers {
		c.NotifyBitChangeLocal(pos)
	}
}

// NotifyBitChangeRemote tells every checker that the peer corrected pos,
// without touching our own bit (Alice's side: she trusts Bob's flip).
func (f *Frame) NotifyBitChangeRemote(pos uint64) {
	if pos >= uint64(f.key.Len()) {
		return
	}
	f.mu.Lock()
	f.correctedBits[pos] = struct{}{}
	checkers := append([]Checker(nil), f.checkers...)
	f.mu.Unlock()
	for _, c := range checkers {
		c.NotifyBitChangeRemote(pos)
	}
}

// NotifyCorrectBit records pos as known-correct and tells every checker.
func (f *Frame) NotifyCorrectBit(pos uint64) {
	if pos >= uint64(f.key.Len()) {
		return
	}
	f.mu.Lock()
	f.correctBits[pos] = struct{}{}
	checkers := append([]Checker(nil), f.checkers...)
	f.mu.Unlock()
	for _, c := range checkers {
		c.NotifyCorrectBit(pos)
	}
}

// CorrectBits returns the bit positions currently known correct.
func (f *Frame) CorrectBits() map[uint64]struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]struct{}, len(f.correctBits))
	for k := range f.correctBits {
		out[k] = struct{}{}
	}
	return out
}

// CorrectedBits returns the bit positions actually flipped or accepted as
// corrected during this run — the disclosed error count.
func (f *Frame) CorrectedBits() map[uint64]struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]struct{}, len(f.correctedBits))
	for k := range f.correctedBits {
		out[k] = struct{}{}
	}
	return out
}

// AddTransmittedMessages accounts n more round-trip message exchanges.
func (f *Frame) AddTransmittedMessages(n uint64) {
	f.mu.Lock()
	f.transmittedMessages += n
	f.mu.Unlock()
}

// AddTransmittedParities accounts n more individual parity bits disclosed.
func (f *Frame) AddTransmittedParities(n uint64) {
	f.mu.Lock()
	f.transmittedParities += n
	f.mu.Unlock()
}

// TransmittedMessages returns the total message round-trips this frame
// has driven.
func (f *Frame) TransmittedMessages() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transmittedMessages
}

// TransmittedParities returns the total number of disclosed parity bits —
// directly usable as the key's disclosed-bit count.
func (f *Frame) TransmittedParities() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transmittedParities
}
