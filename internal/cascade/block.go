package cascade

import "sort"

// ParityBlock is a contiguous span of bits (in permuted index space) this
// pass checks as a unit, with the differential parity Alice/Bob found for
// it the last time it was calculated.
type ParityBlock struct {
	Offset     uint64
	Size       uint64
	DiffParity bool
}

func (b ParityBlock) end() uint64 { return b.Offset + b.Size }

// blockSet is the idiomatic Go stand-in for the C++ original's
// std::set<parity_block, comparator>: a slice of non-overlapping blocks
// kept sorted by Offset, searched with sort.Search instead of a tree
// lookup. Parity blocks at any point in time tile the key range without
// overlap, so Offset alone totally orders them.
type blockSet struct {
	blocks []ParityBlock
}

func newBlockSet() *blockSet { return &blockSet{} }

// indexOf returns the position of the block with Offset == offset, or -1.
func (s *blockSet) indexOf(offset uint64) int {
	i := sort.Search(len(s.blocks), func(i int) bool { return s.blocks[i].Offset >= offset })
	if i < len(s.blocks) && s.blocks[i].Offset == offset {
		return i
	}
	return -1
}

// containing returns the block whose [Offset,Offset+Size) span contains
// pos, and true if found.
func (s *blockSet) containing(pos uint64) (ParityBlock, bool) {
	i := sort.Search(len(s.blocks), func(i int) bool { return s.blocks[i].Offset > pos })
	if i == 0 {
		return ParityBlock{}, false
	}
	b := s.blocks[i-1]
	if pos < b.Offset || pos >= b.end() {
		return ParityBlock{}, false
	}
	return b, true
}

// insert adds b, keeping the slice sorted by Offset. Replaces an existing
// block at the same offset if present.
func (s *blockSet) insert(b ParityBlock) {
	i := sort.Search(len(s.blocks), func(i int) bool { return s.blocks[i].Offset >= b.Offset })
	if i < len(s.blocks) && s.blocks[i].Offset == b.Offset {
		s.blocks[i] = b
		return
	}
	s.blocks = append(s.blocks, ParityBlock{})
	copy(s.blocks[i+1:], s.blocks[i:])
	s.blocks[i] = b
}

// replaceSplit replaces the block at offset with two sub-blocks, first and
// second (first immediately followed by second).
func (s *blockSet) replaceSplit(offset uint64, first, second ParityBlock) {
	i := s.indexOf(offset)
	if i < 0 {
		return
	}
	s.blocks = append(s.blocks[:i], append([]ParityBlock{first, second}, s.blocks[i+1:]...)...)
}

// all returns the blocks in ascending offset order. Callers must not
// mutate the returned slice.
func (s *blockSet) all() []ParityBlock { return s.blocks }

// oddSet tracks blocks currently believed to have odd (mismatching)
// parity, keyed by Offset since odd blocks never overlap either.
type oddSet struct {
	byOffset map[uint64]ParityBlock
}

func newOddSet() *oddSet { return &oddSet{byOffset: make(map[uint64]ParityBlock)} }

func (o *oddSet) insert(b ParityBlock) { o.byOffset[b.Offset] = b }

func (o *oddSet) remove(offset uint64) bool {
	if _, ok := o.byOffset[offset]; !ok {
		return false
	}
	delete(o.byOffset, offset)
	return true
}

func (o *oddSet) len() int { return len(o.byOffset) }

// snapshot returns the current odd blocks sorted by offset, for a
// deterministic correction order.
func (o *oddSet) snapshot() []ParityBlock {
	out := make([]ParityBlock, 0, len(o.byOffset))
	for _, b := range o.byOffset {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}
