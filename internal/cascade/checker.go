package cascade

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// ParityChecker is one Cascade pass ("Protocol P" + "Protocol B" of the
// reconciliation literature): it partitions a permutation of the frame's
// bits into parity blocks, learns which blocks have mismatching
// (odd-differential) parity against the peer, and on request bisects any
// odd block down to the single flipped bit.
//
// A checker never talks to another checker directly — all cross-pass
// effects (a bit correction discovered by an earlier pass changes the
// parity of blocks in every other pass) flow back through the owning
// Frame's notification fan-out, which is what lets checkers be added and
// removed without forming a reference cycle.
type ParityChecker struct {
	peer   Peer
	frame  *Frame
	isBob  bool
	log    zerolog.Logger

	perm    []uint64
	invPerm []uint64

	partialParitySums []bool

	correctBits  *sortedSet // permuted index space: bits known correct
	changedBits  *sortedSet // permuted index space: bits flipped after this checker's parities were computed
	parityBlocks *blockSet
	oddBlocks    *oddSet
}

// NewParityChecker builds a checker for one pass over frame, driving the
// very first full parity exchange against peer as part of construction —
// exactly as the original's constructor does, so a freshly built checker
// already knows which blocks are odd.
func NewParityChecker(ctx context.Context, frame *Frame, perm, invPerm []uint64, categories []Category, peer Peer, isBob bool, log zerolog.Logger) (*ParityChecker, error) {
	nBits := uint64(frame.Key().Len())
	if uint64(len(perm)) != nBits || uint64(len(invPerm)) != nBits {
		return nil, fmt.Errorf("cascade: permutation length %d/%d does not match key length %d", len(perm), len(invPerm), nBits)
	}

	pc := &ParityChecker{
		peer:         peer,
		frame:        frame,
		isBob:        isBob,
		log:          log,
		perm:         perm,
		invPerm:      invPerm,
		correctBits:  newSortedSet(),
		changedBits:  newSortedSet(),
		parityBlocks: newBlockSet(),
		oddBlocks:    newOddSet(),
	}

	pc.partialParitySums = make([]bool, nBits+1)
	for i := uint64(0); i < nBits; i++ {
		pc.partialParitySums[i+1] = pc.partialParitySums[i] != (frame.Key().GetBit(int(invPerm[i])) == 1)
	}

	for pos := range frame.CorrectBits() {
		pc.correctBits.insert(perm[pos])
	}

	var offset uint64
	for _, cat := range categories {
		nBlocks := (cat.Size + cat.K - 1) / cat.K
		calcBlocks := make([]ParityBlock, 0, nBlocks)
		for i := uint64(0); i < nBlocks; i++ {
			b := ParityBlock{Offset: offset + i*cat.K}
			remaining := cat.Size - i*cat.K
			if cat.K < remaining {
				b.Size = cat.K
			} else {
				b.Size = remaining
			}
			calcBlocks = append(calcBlocks, b)
		}

		if err := pc.CalculateBlockDiffParities(ctx, calcBlocks, cat.DiffParityMustBeEven); err != nil {
			return nil, err
		}

		for _, b := range calcBlocks {
			pc.parityBlocks.insert(b)
			if b.DiffParity {
				pc.oddBlocks.insert(b)
			}
		}

		offset += cat.Size
	}

	return pc, nil
}

// OddBlocks returns the blocks currently believed to have mismatching
// parity, in ascending offset order.
func (pc *ParityChecker) OddBlocks() []ParityBlock { return pc.oddBlocks.snapshot() }

func (pc *ParityChecker) countCorrectBitsInBlock(offset, size uint64) uint64 {
	if offset+size > uint64(pc.frame.Key().Len()) {
		pc.log.Warn().Uint64("offset", offset).Uint64("size", size).Msg("cascade: block position out of range")
		return 0
	}
	return pc.correctBits.countInRange(offset, offset+size)
}

// CalculateBlockDiffParities is Protocol P: for every block in calcBlocks
// whose parity isn't already fully known from previously-corrected bits,
// exchange one parity bit with the peer and record whether it differs.
func (pc *ParityChecker) CalculateBlockDiffParities(ctx context.Context, calcBlocks []ParityBlock, totalDiffParityMustBeEven bool) error {
	nExchange := 0
	for i := range calcBlocks {
		b := &calcBlocks[i]
		if b.Offset+b.Size > uint64(pc.frame.Key().Len()) {
			pc.log.Warn().Msg("cascade: parity block out of range")
			return fmt.Errorf("cascade: parity block [%d,+%d) out of range", b.Offset, b.Size)
		}
		if pc.countCorrectBitsInBlock(b.Offset, b.Size) == b.Size {
			b.DiffParity = false
		} else {
			b.DiffParity = true
			nExchange++
		}
	}

	if nExchange == 0 {
		return nil
	}

	if totalDiffParityMustBeEven {
		nExchange--
	}

	localParities := make([]byte, 0, nExchange)
	if nExchange > 0 {
		for i := range calcBlocks {
			if len(localParities) >= nExchange {
				break
			}
			b := &calcBlocks[i]
			if !b.DiffParity {
				continue
			}

			parity := pc.partialParitySums[b.Offset+b.Size] != pc.partialParitySums[b.Offset]
			changed := pc.changedBits.countInRange(b.Offset, b.Offset+b.Size)
			if changed%2 != 0 {
				parity = !parity
			}

			var v byte
			if parity {
				v = 1
			}
			localParities = append(localParities, v)
			pc.frame.AddTransmittedParities(1)
		}

		if err := pc.peer.Send(ctx, localParities); err != nil {
			return fmt.Errorf("cascade: send parities: %w", err)
		}
		remote, err := pc.peer.Recv(ctx)
		if err != nil {
			return fmt.Errorf("cascade: recv parities: %w", err)
		}
		if len(remote) != len(localParities) {
			return fmt.Errorf("cascade: parity exchange size mismatch: local=%d remote=%d", len(localParities), len(remote))
		}
		for i := range localParities {
			localParities[i] ^= remote[i]
		}
		pc.frame.AddTransmittedMessages(1)
	}

	var runningParity bool
	j := 0
	for i := range calcBlocks {
		b := &calcBlocks[i]
		if !b.DiffParity {
			continue
		}
		if j < nExchange {
			b.DiffParity = localParities[j] != 0
			runningParity = runningParity != b.DiffParity
			j++
		} else {
			b.DiffParity = runningParity
		}

		if !b.DiffParity && b.Size == 1 && !pc.correctBits.contains(b.Offset) {
			pc.frame.NotifyCorrectBit(pc.invPerm[b.Offset])
		}
	}

	return nil
}

// CorrectBlocks is Protocol B: given a set of blocks known to have odd
// parity, bisect each down to a single bit and correct it, cascading the
// consequences of each correction to every other registered checker via
// the frame.
func (pc *ParityChecker) CorrectBlocks(ctx context.Context, corrBlocks []ParityBlock) error {
	active := make([]ParityBlock, 0, len(corrBlocks))
	for _, cb := range corrBlocks {
		idx := pc.parityBlocks.indexOf(cb.Offset)
		if idx < 0 {
			pc.log.Warn().Uint64("offset", cb.Offset).Msg("cascade: correct_blocks: block not found")
			return nil
		}
		cur := pc.parityBlocks.all()[idx]
		if !cur.DiffParity {
			pc.log.Warn().Uint64("offset", cb.Offset).Msg("cascade: correct_blocks: block has even parity")
			return nil
		}
		active = append(active, cur)
	}

	for len(active) > 0 {
		var calcBlocks []ParityBlock
		var next []ParityBlock

		for _, b := range active {
			if b.Size > 1 {
				half1 := ParityBlock{Offset: b.Offset, Size: (b.Size + 1) / 2}
				half2 := ParityBlock{Offset: half1.Offset + half1.Size, Size: b.Size - half1.Size}
				if pc.countCorrectBitsInBlock(half2.Offset, half2.Size) == half2.Size {
					calcBlocks = append(calcBlocks, half2)
				} else {
					calcBlocks = append(calcBlocks, half1)
				}
				next = append(next, b)
				continue
			}

			offset := b.Offset
			if !pc.isBob {
				pc.frame.NotifyBitChangeRemote(pc.invPerm[offset])
			} else {
				pc.frame.FlipBit(pc.invPerm[offset])
			}
			pc.frame.NotifyCorrectBit(pc.invPerm[offset])
		}

		if err := pc.CalculateBlockDiffParities(ctx, calcBlocks, false); err != nil {
			return err
		}

		// Open question (a): the original only warns here and proceeds
		// with the shorter sequence rather than aborting the frame — a
		// transport failure would already have surfaced as an error out
		// of CalculateBlockDiffParities above.
		if len(calcBlocks) != len(next) {
			pc.log.Warn().Int("calc", len(calcBlocks)).Int("active", len(next)).
				Msg("cascade: correct_blocks: unequal container sizes")
		}
		m := len(calcBlocks)
		if len(next) < m {
			m = len(next)
		}

		newActive := make([]ParityBlock, 0, m)
		for i := 0; i < m; i++ {
			b := next[i]
			it := calcBlocks[i]

			half1 := ParityBlock{Offset: b.Offset, Size: (b.Size + 1) / 2}
			half2 := ParityBlock{Offset: half1.Offset + half1.Size, Size: b.Size - half1.Size}

			half1.DiffParity = (it.Offset == half2.Offset) != it.DiffParity
			half2.DiffParity = !half1.DiffParity

			if !half1.DiffParity && half1.Size == 1 && !pc.correctBits.contains(half1.Offset) {
				pc.frame.NotifyCorrectBit(pc.invPerm[half1.Offset])
			}
			if !half2.DiffParity && half2.Size == 1 && !pc.correctBits.contains(half2.Offset) {
				pc.frame.NotifyCorrectBit(pc.invPerm[half2.Offset])
			}

			if !pc.oddBlocks.remove(b.Offset) {
				pc.log.Warn().Uint64("offset", b.Offset).Msg("cascade: correct_blocks: could not remove parent from odd set")
			}

			oddHalf := half2
			if half1.DiffParity {
				oddHalf = half1
			}
			pc.oddBlocks.insert(oddHalf)
			pc.parityBlocks.replaceSplit(b.Offset, half1, half2)

			newActive = append(newActive, oddHalf)
		}
		active = newActive
	}

	return nil
}

// NotifyBitChangeLocal is called by the frame when a bit it owns changed
// locally (Bob correcting his own key): the checker records it both as a
// remote-visible change (to keep other checkers' blocks correct) and as a
// change that post-dates this checker's own initial parity calculation.
func (pc *ParityChecker) NotifyBitChangeLocal(pos uint64) {
	pc.NotifyBitChangeRemote(pos)
	pc.changedBits.insert(pc.perm[pos])
}

// NotifyBitChangeRemote flips the differential-parity bit of whichever
// block contains pos, moving it between the odd and even sets.
func (pc *ParityChecker) NotifyBitChangeRemote(pos uint64) {
	permuted := pc.perm[pos]
	b, ok := pc.parityBlocks.containing(permuted)
	if !ok {
		pc.log.Warn().Uint64("pos", permuted).Msg("cascade: unable to locate parity block for bit position")
		return
	}

	b.DiffParity = !b.DiffParity
	pc.parityBlocks.insert(b)

	if b.DiffParity {
		pc.oddBlocks.insert(b)
	} else {
		pc.oddBlocks.remove(b.Offset)
	}
}

// NotifyCorrectBit records pos as known-correct.
func (pc *ParityChecker) NotifyCorrectBit(pos uint64) {
	pc.correctBits.insert(pc.perm[pos])
}
