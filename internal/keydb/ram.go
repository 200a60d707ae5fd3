package keydb

import (
	"fmt"
	"sync"

	"github.com/aitqkd/q3pcore/internal/bitkey"
)

// RAMStore is the in-memory Key-DB backend (`ram://`). It is the default
// for buffers that never need to survive a process restart.
type RAMStore struct {
	mu sync.Mutex

	quantum uint64
	minID   uint64
	maxID   uint64

	slots map[uint64]*Slot

	listeners []ChargeListener
}

// NewRAMStore allocates a window of amount slots, each quantum bytes,
// starting at minID.
func NewRAMStore(minID uint64, amount uint64, quantum uint64) *RAMStore {
	return &RAMStore{
		quantum: quantum,
		minID:   minID,
		maxID:   minID + amount,
		slots:   make(map[uint64]*Slot),
	}
}

func (r *RAMStore) emitCharge(added, removed uint64) {
	for _, l := range r.listeners {
		l(added, removed)
	}
}

// Insert implements KeyDB.
func (r *RAMStore) Insert(key *bitkey.Key) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := r.minID; id < r.maxID; id++ {
		if _, taken := r.slots[id]; !taken {
			r.slots[id] = &Slot{ID: id, State: SlotReal, Key: key, RealSync: true}
			r.emitCharge(1, 0)
			return id, nil
		}
	}
	return 0, fmt.Errorf("keydb: window [%d,%d) exhausted", r.minID, r.maxID)
}

// Get implements KeyDB.
func (r *RAMStore) Get(id uint64) (*bitkey.Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, nil
	}
	return s.Key, nil
}

// Set implements KeyDB.
func (r *RAMStore) Set(id uint64, key *bitkey.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		s = &Slot{ID: id, State: SlotReal, RealSync: true}
		r.slots[id] = s
		r.emitCharge(1, 0)
	}
	s.Key = key
	return nil
}

// SetReal implements KeyDB.
func (r *RAMStore) SetReal(id uint64, key *bitkey.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		s = &Slot{ID: id}
		r.slots[id] = s
		r.emitCharge(1, 0)
	} else if s.Key == nil {
		r.emitCharge(1, 0)
	}
	s.Key = key
	s.State = SlotReal
	s.RealSync = true
	s.UseCount = 0
	return nil
}

// Del implements KeyDB.
func (r *RAMStore) Del(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[id]; ok {
		delete(r.slots, id)
		r.emitCharge(0, 1)
	}
	return nil
}

// Valid implements KeyDB.
func (r *RAMStore) Valid(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[id].Valid()
}

// slotOrFree returns the slot at id, or an implicit SlotFree placeholder
// for an id within the window that was never populated.
func (r *RAMStore) slotOrFree(id uint64) *Slot {
	if s, ok := r.slots[id]; ok {
		return s
	}
	return &Slot{ID: id, State: SlotFree}
}

func (r *RAMStore) findAndReserve(bytes uint64, counterStep uint32, match func(*Slot) bool, requireContinuous bool) ([]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var picked []uint64
	var sum uint64
	var lastID uint64

	for id := r.minID; id < r.maxID; id++ {
		s := r.slotOrFree(id)
		eligible := s.UseCount == 0 && match(s)
		if !eligible {
			if requireContinuous {
				// a gap breaks any run accumulated so far
				picked, sum = nil, 0
			}
			continue
		}
		if requireContinuous && len(picked) > 0 && id != lastID+1 {
			picked, sum = nil, 0
		}
		picked = append(picked, id)
		sum += r.quantum
		lastID = id
		if sum >= bytes {
			break
		}
	}

	if sum < bytes {
		return nil, fmt.Errorf("keydb: insufficient slots to cover %d bytes (have %d)", bytes, sum)
	}

	for _, id := range picked {
		s, ok := r.slots[id]
		if !ok {
			s = &Slot{ID: id, State: SlotFree}
			r.slots[id] = s
		}
		s.UseCount += counterStep
	}
	return picked, nil
}

// FindValid implements KeyDB.
func (r *RAMStore) FindValid(bytes uint64, counterStep uint32) ([]uint64, error) {
	return r.findAndReserve(bytes, counterStep, func(s *Slot) bool { return s.Valid() }, false)
}

// FindSpare implements KeyDB.
func (r *RAMStore) FindSpare(bytes uint64, counterStep uint32) ([]uint64, error) {
	return r.findAndReserve(bytes, counterStep, func(s *Slot) bool { return s.State == SlotFree }, false)
}

// FindContinuous implements KeyDB.
func (r *RAMStore) FindContinuous(bytes uint64, counterStep uint32) ([]uint64, error) {
	return r.findAndReserve(bytes, counterStep, func(s *Slot) bool { return s.Valid() }, true)
}

// SetKeyCount implements KeyDB.
func (r *RAMStore) SetKeyCount(ids []uint64, n uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if s, ok := r.slots[id]; ok {
			s.UseCount = n
		}
	}
	return nil
}

// Count implements KeyDB. Slots created only as UseCount-reservation
// placeholders (no key material yet) don't count as populated.
func (r *RAMStore) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n uint64
	for _, s := range r.slots {
		if s.Key != nil {
			n++
		}
	}
	return n
}

// Amount implements KeyDB.
func (r *RAMStore) Amount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxID - r.minID
}

// Quantum implements KeyDB.
func (r *RAMStore) Quantum() uint64 { return r.quantum }

// MinID implements KeyDB.
func (r *RAMStore) MinID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minID
}

// MaxID implements KeyDB.
func (r *RAMStore) MaxID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxID
}

// OnChargeChange implements KeyDB.
func (r *RAMStore) OnChargeChange(l ChargeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Close implements KeyDB. RAMStore holds no external resources.
func (r *RAMStore) Close() error { return nil }

var _ KeyDB = (*RAMStore)(nil)
