package q3pengine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/aitqkd/q3pcore/internal/keydb"
	"github.com/aitqkd/q3pcore/internal/q3pchannel"
)

// authTagReserve mirrors internal/q3pchannel's per-message authentication
// key draw (32 bytes, one Poly1305 key). A LOAD round spends this twice —
// once authenticating the LOAD itself, once for the peer's LOAD-ACK — so
// a round that nets fewer bytes than that is pure overhead and should be
// rolled back rather than sent.
const authTagReserve = 32 * 2

// idGroup is one source slot's worth of a LOAD/STORE payload: the source
// Key-DB ID being consumed, and the destination IDs its bytes land in.
// The destination Key-DB's quantum need not match the source's — the
// Common Store's is a multiple of a buffer's — so one source slot's
// bytes may fan out across several destination slots.
type idGroup struct {
	SourceID uint64
	DestIDs  []uint64
}

// loadSection is one buffer's worth of a LOAD payload: the source
// (Common Store) slots being moved out, each paired with the group of
// destination (buffer) slots receiving its bytes.
type loadSection struct {
	Groups []idGroup
}

// CommonStoreIDs returns the section's source IDs, in order.
func (s loadSection) CommonStoreIDs() []uint64 {
	ids := make([]uint64, len(s.Groups))
	for i, g := range s.Groups {
		ids[i] = g.SourceID
	}
	return ids
}

func (s loadSection) encode(buf *bytes.Buffer) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s.Groups)))
	buf.Write(n[:])
	for _, g := range s.Groups {
		putUint64(buf, g.SourceID)
		putIDs(buf, g.DestIDs)
	}
}

func decodeSection(r *bytes.Reader) (loadSection, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return loadSection{}, fmt.Errorf("%w: truncated section group count: %v", ErrAnswer, err)
	}
	count := binary.BigEndian.Uint32(n[:])
	groups := make([]idGroup, count)
	for i := range groups {
		srcID, err := getUint64(r)
		if err != nil {
			return loadSection{}, fmt.Errorf("%w: %v", ErrAnswer, err)
		}
		destIDs, err := getIDs(r)
		if err != nil {
			return loadSection{}, fmt.Errorf("%w: %v", ErrAnswer, err)
		}
		groups[i] = idGroup{SourceID: srcID, DestIDs: destIDs}
	}
	return loadSection{Groups: groups}, nil
}

// LoadPayload is the LOAD protocol's message body: the OUTGOING section
// followed by the APPLICAT section, each encoded as a group count and
// binary IDs (no string tags are written on the wire) — moving Common Store keys into the sender's
// Outgoing and Application buffers (mirrored, on the recipient, into its
// Incoming and Application buffers respectively).
type LoadPayload struct {
	Outgoing    loadSection
	Application loadSection
}

// Marshal encodes a LOAD payload.
func (p LoadPayload) Marshal() []byte {
	var buf bytes.Buffer
	p.Outgoing.encode(&buf)
	p.Application.encode(&buf)
	return buf.Bytes()
}

// UnmarshalLoad parses a LOAD payload produced by Marshal.
func UnmarshalLoad(b []byte) (*LoadPayload, error) {
	r := bytes.NewReader(b)
	out, err := decodeSection(r)
	if err != nil {
		return nil, err
	}
	app, err := decodeSection(r)
	if err != nil {
		return nil, err
	}
	return &LoadPayload{Outgoing: out, Application: app}, nil
}

// LoadAckPayload is the LOAD-ACK reply: which of the original LOAD's
// Common Store keys were actually moved on the recipient's side.
type LoadAckPayload struct {
	OriginalMessageID         uint32
	OutgoingCommonStoreIDs    []uint64
	ApplicationCommonStoreIDs []uint64
}

// Marshal encodes a LOAD-ACK payload.
func (p LoadAckPayload) Marshal() []byte {
	var buf bytes.Buffer
	putUint64(&buf, uint64(p.OriginalMessageID))
	putIDs(&buf, p.OutgoingCommonStoreIDs)
	putIDs(&buf, p.ApplicationCommonStoreIDs)
	return buf.Bytes()
}

// UnmarshalLoadAck parses a LOAD-ACK payload produced by Marshal.
func UnmarshalLoadAck(b []byte) (*LoadAckPayload, error) {
	r := bytes.NewReader(b)
	msgID, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	outIDs, err := getIDs(r)
	if err != nil {
		return nil, err
	}
	appIDs, err := getIDs(r)
	if err != nil {
		return nil, err
	}
	return &LoadAckPayload{
		OriginalMessageID:         uint32(msgID),
		OutgoingCommonStoreIDs:    outIDs,
		ApplicationCommonStoreIDs: appIDs,
	}, nil
}

// LoadRequestPayload is the LOAD-REQUEST protocol's body: how many bytes
// the slave's Incoming buffer needs, as one big-endian uint64 (no
// "LOAD-REQ"/"INCOMING" string tags are written on the wire).
type LoadRequestPayload struct {
	Bytes uint64
}

// Marshal encodes a LOAD-REQUEST payload.
func (p LoadRequestPayload) Marshal() []byte {
	var buf bytes.Buffer
	putUint64(&buf, p.Bytes)
	return buf.Bytes()
}

// UnmarshalLoadRequest parses a LOAD-REQUEST payload produced by Marshal.
func UnmarshalLoadRequest(b []byte) (*LoadRequestPayload, error) {
	r := bytes.NewReader(b)
	n, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	return &LoadRequestPayload{Bytes: n}, nil
}

// PeriodicLoadTargets computes how many bytes the master should try to
// move into Outgoing and Application this round: 0 for a sated buffer,
// otherwise enough to fill it to capacity.
func (e *Engine) PeriodicLoadTargets() (outgoingBytes, applicationBytes uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !sated(e.Outgoing, e.Incoming) {
		outgoingBytes = (e.Outgoing.Amount() - e.Outgoing.Count()) * e.Outgoing.Quantum()
	}
	if !sated(e.Application, e.Incoming) {
		applicationBytes = (e.Application.Amount() - e.Application.Count()) * e.Application.Quantum()
	}
	return outgoingBytes, applicationBytes
}

// IncomingNeedBytes is the slave-side LOAD-REQUEST calculation: 0 if
// Incoming already holds at least as much as Outgoing, else enough to
// fill Incoming to capacity.
func (e *Engine) IncomingNeedBytes() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Incoming.Count() >= e.Outgoing.Count() {
		return 0
	}
	return (e.Incoming.Amount() - e.Incoming.Count()) * e.Incoming.Quantum()
}

// reserveSection reserves up to bytes worth of real slots from src and
// a matching set of free receptacles from dest, grouping each src slot
// with the run of dest slots its bytes will populate. src's quantum
// must be a whole multiple of dest's — the case the Common Store and a
// buffer are in, and the degenerate 1:1 case a pickup area and the
// Common Store are in.
func reserveSection(src, dest keydb.KeyDB, bytes uint64) (loadSection, error) {
	if bytes == 0 {
		return loadSection{}, nil
	}
	srcQuantum, destQuantum := src.Quantum(), dest.Quantum()
	if srcQuantum == 0 || destQuantum == 0 || srcQuantum%destQuantum != 0 {
		return loadSection{}, fmt.Errorf("%w: source quantum %d is not a multiple of destination quantum %d", ErrConfig, srcQuantum, destQuantum)
	}
	ratio := int(srcQuantum / destQuantum)

	srcIDs, err := src.FindValid(bytes, 1)
	if err != nil {
		return loadSection{}, fmt.Errorf("%w: source: %v", q3pchannel.ErrKeys, err)
	}

	// Size the destination reservation to what src actually yielded
	// (FindValid rounds up to whole src-quantum units, which may exceed
	// bytes), not the original byte target.
	destBytes := uint64(len(srcIDs)) * srcQuantum
	destIDs, err := dest.FindSpare(destBytes, 1)
	if err != nil {
		src.SetKeyCount(srcIDs, 0)
		return loadSection{}, fmt.Errorf("%w: destination: %v", q3pchannel.ErrKeys, err)
	}
	if want := len(srcIDs) * ratio; len(destIDs) != want {
		// The destination window came up short of whole groups; drop
		// whatever trailing src slots can't be fully backed.
		whole := len(destIDs) / ratio
		if extra := destIDs[whole*ratio:]; len(extra) > 0 {
			dest.SetKeyCount(extra, 0)
		}
		destIDs = destIDs[:whole*ratio]
		if whole < len(srcIDs) {
			src.SetKeyCount(srcIDs[whole:], 0)
			srcIDs = srcIDs[:whole]
		}
	}

	groups := make([]idGroup, len(srcIDs))
	for i, id := range srcIDs {
		groups[i] = idGroup{
			SourceID: id,
			DestIDs:  append([]uint64(nil), destIDs[i*ratio:(i+1)*ratio]...),
		}
	}
	return loadSection{Groups: groups}, nil
}

func rollbackSection(src, dest keydb.KeyDB, s loadSection) {
	var destIDs []uint64
	for _, g := range s.Groups {
		destIDs = append(destIDs, g.DestIDs...)
	}
	src.SetKeyCount(s.CommonStoreIDs(), 0)
	dest.SetKeyCount(destIDs, 0)
}

// BuildLoad reserves Common Store keys and buffer receptacles covering
// the requested byte targets and returns the LOAD payload to send, along
// with the message ID to track for the matching LOAD-ACK. Only the
// master may call this. If the round's total gain doesn't exceed the
// authentication overhead of sending it, the reservation is rolled back
// and ErrKeys is returned.
func (e *Engine) BuildLoad(outgoingBytes, applicationBytes uint64) (uint32, LoadPayload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.Master {
		return 0, LoadPayload{}, fmt.Errorf("%w: only the master drives LOAD", ErrRole)
	}

	outSection, err := reserveSection(e.CommonStore, e.Outgoing, outgoingBytes)
	if err != nil {
		return 0, LoadPayload{}, err
	}
	appSection, err := reserveSection(e.CommonStore, e.Application, applicationBytes)
	if err != nil {
		rollbackSection(e.CommonStore, e.Outgoing, outSection)
		return 0, LoadPayload{}, err
	}

	gained := uint64(len(outSection.Groups))*e.CommonStore.Quantum() +
		uint64(len(appSection.Groups))*e.CommonStore.Quantum()
	if gained <= authTagReserve {
		rollbackSection(e.CommonStore, e.Outgoing, outSection)
		rollbackSection(e.CommonStore, e.Application, appSection)
		return 0, LoadPayload{}, fmt.Errorf("%w: round gains %d bytes, not worth the authentication overhead", q3pchannel.ErrKeys, gained)
	}

	payload := LoadPayload{Outgoing: outSection, Application: appSection}
	msgID := e.allocMessageID()
	e.pending[msgID] = &pendingRequest{
		correlation: uuid.New(),
		deadline:    time.Now().Add(e.RequestTimeout),
		outSrc:      e.CommonStore,
		outDest:     e.Outgoing,
		outSection:  outSection,
		appSrc:      e.CommonStore,
		appDest:     e.Application,
		appSection:  appSection,
	}
	return msgID, payload, nil
}

// ApplyLoad is called by the recipient of a LOAD message (the slave in
// the common case, or the master replying to its own LOAD-REQUEST-
// triggered send has no recipient-side call — ApplyLoad always runs on
// the *other* side of the link from BuildLoad). It moves the listed
// Common Store keys into the local mirror buffers — the sender's
// OUTGOING section becomes this side's Incoming, its APPLICAT section
// becomes this side's Application — and returns the LOAD-ACK payload
// listing which Common Store IDs were actually available locally.
func (e *Engine) ApplyLoad(msgID uint32, p LoadPayload) LoadAckPayload {
	e.mu.Lock()
	defer e.mu.Unlock()

	moveIncoming := e.applyMirroredSection(e.Incoming, p.Outgoing)
	moveApplication := e.applyMirroredSection(e.Application, p.Application)

	if e.loadRequestOutstanding {
		e.loadRequestOutstanding = false
		for id, pr := range e.pending {
			if pr.isLoadReq {
				delete(e.pending, id)
			}
		}
	}

	return LoadAckPayload{
		OriginalMessageID:         msgID,
		OutgoingCommonStoreIDs:    moveIncoming,
		ApplicationCommonStoreIDs: moveApplication,
	}
}

// applyMirroredSection moves whichever of s's Common Store keys are
// actually present locally into targetBuf, slicing each key's material
// across the run of buffer IDs its group names, and returns the Common
// Store IDs it moved.
func (e *Engine) applyMirroredSection(targetBuf keydb.KeyDB, s loadSection) []uint64 {
	destBits := int(targetBuf.Quantum()) * 8
	var moved []uint64
	for _, g := range s.Groups {
		key, err := e.CommonStore.Get(g.SourceID)
		if err != nil || key == nil {
			continue
		}
		ok := true
		for i, bufID := range g.DestIDs {
			chunk := key.Slice(i*destBits, (i+1)*destBits)
			if err := targetBuf.SetReal(bufID, chunk); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		e.CommonStore.Del(g.SourceID)
		moved = append(moved, g.SourceID)
	}
	return moved
}

// ApplyLoadAck finalizes the originator's side of a LOAD round: Common
// Store slots whose keys were acknowledged as moved are deleted and the
// paired buffer slot is populated real-sync; slots the peer didn't
// acknowledge (its Common Store didn't have them, or it never replied in
// time) are rolled back.
func (e *Engine) ApplyLoadAck(ack LoadAckPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[ack.OriginalMessageID]
	if !ok {
		return fmt.Errorf("%w: LOAD-ACK for unknown message id %d", ErrAnswer, ack.OriginalMessageID)
	}
	delete(e.pending, ack.OriginalMessageID)

	commitSection(e.CommonStore, e.Outgoing, p.outSection, ack.OutgoingCommonStoreIDs)
	commitSection(e.CommonStore, e.Application, p.appSection, ack.ApplicationCommonStoreIDs)
	return nil
}

// BuildLoadRequest is the slave side's periodic check: if Incoming needs
// topping up and no LOAD-REQUEST is already outstanding, returns the
// payload to send and begins tracking it against RequestTimeout.
func (e *Engine) BuildLoadRequest() (uint32, LoadRequestPayload, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loadRequestOutstanding {
		return 0, LoadRequestPayload{}, false
	}
	bytes := e.incomingNeedBytesLocked()
	if bytes == 0 {
		return 0, LoadRequestPayload{}, false
	}

	msgID := e.allocMessageID()
	e.loadRequestOutstanding = true
	e.pending[msgID] = &pendingRequest{
		correlation: uuid.New(),
		deadline:    time.Now().Add(e.RequestTimeout),
		isLoadReq:   true,
	}
	return msgID, LoadRequestPayload{Bytes: bytes}, true
}

func (e *Engine) incomingNeedBytesLocked() uint64 {
	if e.Incoming.Count() >= e.Outgoing.Count() {
		return 0
	}
	return (e.Incoming.Amount() - e.Incoming.Count()) * e.Incoming.Quantum()
}

// ApplyLoadRequest is the master side's handler for an inbound
// LOAD-REQUEST: it runs a LOAD round sized to the requested bytes,
// targeting only Outgoing (LOAD-REQUEST is solely about the peer's
// Incoming need, which mirrors this side's Outgoing).
func (e *Engine) ApplyLoadRequest(req LoadRequestPayload) (uint32, LoadPayload, error) {
	return e.BuildLoad(req.Bytes, 0)
}

// commitSection finalizes a reserved section after acknowledgement: the
// source slots among ackedSrcIDs are deleted and their grouped
// destination slots set real-sync, sliced from the source key's
// material; any reserved-but-unacknowledged group is rolled back on
// both sides.
func commitSection(src, dest keydb.KeyDB, s loadSection, ackedSrcIDs []uint64) {
	acked := make(map[uint64]bool, len(ackedSrcIDs))
	for _, id := range ackedSrcIDs {
		acked[id] = true
	}
	destBits := int(dest.Quantum()) * 8
	for _, g := range s.Groups {
		if acked[g.SourceID] {
			key, err := src.Get(g.SourceID)
			if err == nil && key != nil {
				for i, destID := range g.DestIDs {
					dest.SetReal(destID, key.Slice(i*destBits, (i+1)*destBits))
				}
			}
			src.Del(g.SourceID)
		} else {
			src.SetKeyCount([]uint64{g.SourceID}, 0)
			dest.SetKeyCount(g.DestIDs, 0)
		}
	}
}
