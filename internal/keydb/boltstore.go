package keydb

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/aitqkd/q3pcore/internal/bitkey"
)

var (
	slotsBucket = []byte("slots")
	metaBucket  = []byte("meta")
)

// slotRecord is the gob-serializable projection of a Slot persisted to
// bbolt — bitkey.Key is stored as raw bytes plus its bit length since the
// type itself carries no exported fields to encode directly.
type slotRecord struct {
	State    SlotState
	KeyBits  []byte
	KeyLen   int
	RealSync bool
	Eventual bool
	UseCount uint32
}

// BoltStore is the file-backed Key-DB backend (`file://`), giving the
// persisted slot window durability across restarts via an embedded KV
// engine instead of a hand-rolled file format.
type BoltStore struct {
	mu sync.Mutex

	db      *bbolt.DB
	quantum uint64
	minID   uint64
	maxID   uint64

	listeners []ChargeListener
}

// OpenBoltStore opens (creating if necessary) a bbolt-backed Key-DB at
// path, sized to amount slots of quantum bytes starting at minID. Reopening
// an existing file reuses its stored window bounds if they're already
// present, so a restarted engine doesn't silently resize its own store.
func OpenBoltStore(path string, minID, amount, quantum uint64) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("keydb: open bolt store %q: %w", path, err)
	}

	s := &BoltStore{db: db, quantum: quantum, minID: minID, maxID: minID + amount}

	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(slotsBucket)
		if err != nil {
			return err
		}
		_ = b
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if v := meta.Get([]byte("minID")); v != nil {
			s.minID = binary.BigEndian.Uint64(v)
		} else {
			var b8 [8]byte
			binary.BigEndian.PutUint64(b8[:], s.minID)
			if err := meta.Put([]byte("minID"), b8[:]); err != nil {
				return err
			}
		}
		if v := meta.Get([]byte("maxID")); v != nil {
			s.maxID = binary.BigEndian.Uint64(v)
		} else {
			var b8 [8]byte
			binary.BigEndian.PutUint64(b8[:], s.maxID)
			if err := meta.Put([]byte("maxID"), b8[:]); err != nil {
				return err
			}
		}
		if v := meta.Get([]byte("quantum")); v != nil {
			s.quantum = binary.BigEndian.Uint64(v)
		} else {
			var b8 [8]byte
			binary.BigEndian.PutUint64(b8[:], s.quantum)
			if err := meta.Put([]byte("quantum"), b8[:]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("keydb: init bolt store: %w", err)
	}

	return s, nil
}

func idKey(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func encodeSlot(s *Slot) ([]byte, error) {
	rec := slotRecord{State: s.State, RealSync: s.RealSync, Eventual: s.Eventual, UseCount: s.UseCount}
	if s.Key != nil {
		rec.KeyBits = s.Key.Bytes()
		rec.KeyLen = s.Key.Len()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSlot(id uint64, b []byte) (*Slot, error) {
	var rec slotRecord
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rec); err != nil {
		return nil, err
	}
	s := &Slot{ID: id, State: rec.State, RealSync: rec.RealSync, Eventual: rec.Eventual, UseCount: rec.UseCount}
	if rec.KeyLen > 0 {
		s.Key = bitkey.FromBytes(rec.KeyBits)
	}
	return s, nil
}

func (s *BoltStore) emitCharge(added, removed uint64) {
	for _, l := range s.listeners {
		l(added, removed)
	}
}

// Insert implements KeyDB.
func (s *BoltStore) Insert(key *bitkey.Key) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var assigned uint64
	found := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(slotsBucket)
		for id := s.minID; id < s.maxID; id++ {
			if b.Get(idKey(id)) == nil {
				enc, err := encodeSlot(&Slot{ID: id, State: SlotReal, Key: key, RealSync: true})
				if err != nil {
					return err
				}
				if err := b.Put(idKey(id), enc); err != nil {
					return err
				}
				assigned = id
				found = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("keydb: window [%d,%d) exhausted", s.minID, s.maxID)
	}
	s.emitCharge(1, 0)
	return assigned, nil
}

// Get implements KeyDB.
func (s *BoltStore) Get(id uint64) (*bitkey.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var key *bitkey.Key
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(slotsBucket).Get(idKey(id))
		if v == nil {
			return nil
		}
		slot, err := decodeSlot(id, v)
		if err != nil {
			return err
		}
		key = slot.Key
		return nil
	})
	return key, err
}

// Set implements KeyDB.
func (s *BoltStore) Set(id uint64, key *bitkey.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	isNew := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(slotsBucket)
		v := b.Get(idKey(id))
		var slot *Slot
		if v == nil {
			isNew = true
			slot = &Slot{ID: id, State: SlotReal, RealSync: true}
		} else {
			var err error
			slot, err = decodeSlot(id, v)
			if err != nil {
				return err
			}
		}
		slot.Key = key
		enc, err := encodeSlot(slot)
		if err != nil {
			return err
		}
		return b.Put(idKey(id), enc)
	})
	if err != nil {
		return err
	}
	if isNew {
		s.emitCharge(1, 0)
	}
	return nil
}

// SetReal implements KeyDB.
func (s *BoltStore) SetReal(id uint64, key *bitkey.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasEmpty := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(slotsBucket)
		v := b.Get(idKey(id))
		slot := &Slot{ID: id}
		if v != nil {
			var err error
			slot, err = decodeSlot(id, v)
			if err != nil {
				return err
			}
		}
		wasEmpty = slot.Key == nil
		slot.Key = key
		slot.State = SlotReal
		slot.RealSync = true
		slot.UseCount = 0
		enc, err := encodeSlot(slot)
		if err != nil {
			return err
		}
		return b.Put(idKey(id), enc)
	})
	if err != nil {
		return err
	}
	if wasEmpty {
		s.emitCharge(1, 0)
	}
	return nil
}

// Del implements KeyDB.
func (s *BoltStore) Del(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(slotsBucket)
		if b.Get(idKey(id)) != nil {
			existed = true
		}
		return b.Delete(idKey(id))
	})
	if err != nil {
		return err
	}
	if existed {
		s.emitCharge(0, 1)
	}
	return nil
}

// Valid implements KeyDB.
func (s *BoltStore) Valid(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var valid bool
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(slotsBucket).Get(idKey(id))
		if v == nil {
			return nil
		}
		slot, err := decodeSlot(id, v)
		if err != nil {
			return err
		}
		valid = slot.Valid()
		return nil
	})
	return valid
}

func (s *BoltStore) findAndReserve(bytes_ uint64, counterStep uint32, match func(*Slot) bool, requireContinuous bool) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var picked []uint64
	var sum uint64

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(slotsBucket)
		var lastID uint64
		for id := s.minID; id < s.maxID; id++ {
			var slot *Slot
			if v := b.Get(idKey(id)); v != nil {
				var err error
				slot, err = decodeSlot(id, v)
				if err != nil {
					return err
				}
			} else {
				slot = &Slot{ID: id, State: SlotFree}
			}
			eligible := slot.UseCount == 0 && match(slot)
			if !eligible {
				if requireContinuous {
					picked, sum = nil, 0
				}
				continue
			}
			if requireContinuous && len(picked) > 0 && id != lastID+1 {
				picked, sum = nil, 0
			}
			picked = append(picked, id)
			sum += s.quantum
			lastID = id
			if sum >= bytes_ {
				break
			}
		}
		if sum < bytes_ {
			return fmt.Errorf("keydb: insufficient slots to cover %d bytes (have %d)", bytes_, sum)
		}
		for _, id := range picked {
			var slot *Slot
			if v := b.Get(idKey(id)); v != nil {
				var err error
				slot, err = decodeSlot(id, v)
				if err != nil {
					return err
				}
			} else {
				slot = &Slot{ID: id, State: SlotFree}
			}
			slot.UseCount += counterStep
			enc, err := encodeSlot(slot)
			if err != nil {
				return err
			}
			if err := b.Put(idKey(id), enc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return picked, nil
}

// FindValid implements KeyDB.
func (s *BoltStore) FindValid(bytes_ uint64, counterStep uint32) ([]uint64, error) {
	return s.findAndReserve(bytes_, counterStep, func(sl *Slot) bool { return sl.Valid() }, false)
}

// FindSpare implements KeyDB.
func (s *BoltStore) FindSpare(bytes_ uint64, counterStep uint32) ([]uint64, error) {
	return s.findAndReserve(bytes_, counterStep, func(sl *Slot) bool { return sl.State == SlotFree }, false)
}

// FindContinuous implements KeyDB.
func (s *BoltStore) FindContinuous(bytes_ uint64, counterStep uint32) ([]uint64, error) {
	return s.findAndReserve(bytes_, counterStep, func(sl *Slot) bool { return sl.Valid() }, true)
}

// SetKeyCount implements KeyDB.
func (s *BoltStore) SetKeyCount(ids []uint64, n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(slotsBucket)
		for _, id := range ids {
			v := b.Get(idKey(id))
			if v == nil {
				continue
			}
			slot, err := decodeSlot(id, v)
			if err != nil {
				return err
			}
			slot.UseCount = n
			enc, err := encodeSlot(slot)
			if err != nil {
				return err
			}
			if err := b.Put(idKey(id), enc); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count implements KeyDB. Slots created only as UseCount-reservation
// placeholders (no key material yet) don't count as populated.
func (s *BoltStore) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	_ = s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(slotsBucket).ForEach(func(k, v []byte) error {
			id := binary.BigEndian.Uint64(k)
			slot, err := decodeSlot(id, v)
			if err != nil {
				return err
			}
			if slot.Key != nil {
				n++
			}
			return nil
		})
	})
	return n
}

// Amount implements KeyDB.
func (s *BoltStore) Amount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxID - s.minID
}

// Quantum implements KeyDB.
func (s *BoltStore) Quantum() uint64 { return s.quantum }

// MinID implements KeyDB.
func (s *BoltStore) MinID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minID
}

// MaxID implements KeyDB.
func (s *BoltStore) MaxID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxID
}

// OnChargeChange implements KeyDB.
func (s *BoltStore) OnChargeChange(l ChargeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Close implements KeyDB.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ KeyDB = (*BoltStore)(nil)
