package q3pengine

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aitqkd/q3pcore/internal/keydb"
	"github.com/aitqkd/q3pcore/internal/q3pchannel"
)

// StorePayload is the STORE protocol's body: freshly reconciled keys
// sitting in the sender's pickup area, paired with the Common Store IDs
// they're destined for — symmetric to LOAD but moving material the
// opposite direction (into the Common Store rather than out of it).
// Each group's SourceID is a pickup-area ID and its DestIDs are the
// Common Store IDs receiving that key's material.
type StorePayload struct {
	Section loadSection
}

// Marshal encodes a STORE payload.
func (p StorePayload) Marshal() []byte {
	var buf bytes.Buffer
	p.Section.encode(&buf)
	return buf.Bytes()
}

// UnmarshalStore parses a STORE payload produced by Marshal.
func UnmarshalStore(b []byte) (*StorePayload, error) {
	r := bytes.NewReader(b)
	s, err := decodeSection(r)
	if err != nil {
		return nil, err
	}
	return &StorePayload{Section: s}, nil
}

// StoreAckPayload is the STORE-ACK reply: which pickup-area keys were
// actually committed into the Common Store on the recipient's side.
type StoreAckPayload struct {
	OriginalMessageID uint32
	PickupIDs         []uint64
}

// Marshal encodes a STORE-ACK payload.
func (p StoreAckPayload) Marshal() []byte {
	var buf bytes.Buffer
	putUint64(&buf, uint64(p.OriginalMessageID))
	putIDs(&buf, p.PickupIDs)
	return buf.Bytes()
}

// UnmarshalStoreAck parses a STORE-ACK payload produced by Marshal.
func UnmarshalStoreAck(b []byte) (*StoreAckPayload, error) {
	r := bytes.NewReader(b)
	msgID, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	ids, err := getIDs(r)
	if err != nil {
		return nil, err
	}
	return &StoreAckPayload{OriginalMessageID: uint32(msgID), PickupIDs: ids}, nil
}

// BuildStore reserves up to bytes worth of real keys from the pickup
// area plus free Common Store receptacles for them, returning the STORE
// payload to send. Either side may initiate a STORE round — reconciled
// keys accumulate locally on whichever endpoint ran the Cascade driver
// most recently.
func (e *Engine) BuildStore(pickup keydb.KeyDB, bytes uint64) (uint32, StorePayload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	section, err := reserveSection(pickup, e.CommonStore, bytes)
	if err != nil {
		return 0, StorePayload{}, err
	}
	if len(section.Groups) == 0 {
		return 0, StorePayload{}, fmt.Errorf("%w: nothing to store", q3pchannel.ErrKeys)
	}

	msgID := e.allocMessageID()
	e.pending[msgID] = &pendingRequest{
		correlation: uuid.New(),
		deadline:    time.Now().Add(e.RequestTimeout),
		outSrc:      pickup,
		outDest:     e.CommonStore,
		outSection:  section,
	}
	return msgID, StorePayload{Section: section}, nil
}

// ApplyStore is called by the recipient of a STORE message: it copies
// whichever listed pickup-area keys it can read locally into the
// destination Common Store IDs, marking them real-sync, and reports back
// which ones landed.
func (e *Engine) ApplyStore(msgID uint32, pickup keydb.KeyDB, p StorePayload) StoreAckPayload {
	e.mu.Lock()
	defer e.mu.Unlock()

	destBits := int(e.CommonStore.Quantum()) * 8
	var moved []uint64
	for _, g := range p.Section.Groups {
		key, err := pickup.Get(g.SourceID)
		if err != nil || key == nil {
			continue
		}
		ok := true
		for i, csID := range g.DestIDs {
			chunk := key.Slice(i*destBits, (i+1)*destBits)
			if err := e.CommonStore.SetReal(csID, chunk); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		pickup.Del(g.SourceID)
		moved = append(moved, g.SourceID)
	}
	return StoreAckPayload{OriginalMessageID: msgID, PickupIDs: moved}
}

// ApplyStoreAck finalizes the originator's side of a STORE round: the
// acknowledged pickup-area keys are deleted and their Common Store slots
// confirmed real-sync; the rest are rolled back (kept pending in pickup).
func (e *Engine) ApplyStoreAck(pickup keydb.KeyDB, ack StoreAckPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[ack.OriginalMessageID]
	if !ok {
		return fmt.Errorf("%w: STORE-ACK for unknown message id %d", ErrAnswer, ack.OriginalMessageID)
	}
	delete(e.pending, ack.OriginalMessageID)

	commitSection(pickup, e.CommonStore, p.outSection, ack.PickupIDs)
	return nil
}

