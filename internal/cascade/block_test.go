package cascade

import "testing"

func TestBlockSetContaining(t *testing.T) {
	s := newBlockSet()
	s.insert(ParityBlock{Offset: 0, Size: 4})
	s.insert(ParityBlock{Offset: 4, Size: 4})
	s.insert(ParityBlock{Offset: 8, Size: 2})

	b, ok := s.containing(5)
	if !ok || b.Offset != 4 {
		t.Fatalf("expected block at offset 4, got %+v ok=%v", b, ok)
	}
	if _, ok := s.containing(100); ok {
		t.Fatalf("expected no block found out of range")
	}
}

func TestBlockSetReplaceSplit(t *testing.T) {
	s := newBlockSet()
	s.insert(ParityBlock{Offset: 0, Size: 8})
	s.replaceSplit(0, ParityBlock{Offset: 0, Size: 4}, ParityBlock{Offset: 4, Size: 4})
	all := s.all()
	if len(all) != 2 || all[0].Size != 4 || all[1].Offset != 4 {
		t.Fatalf("unexpected split result: %+v", all)
	}
}

func TestSortedSetCountInRange(t *testing.T) {
	s := newSortedSet()
	for _, v := range []uint64{1, 3, 5, 7, 9} {
		s.insert(v)
	}
	if got := s.countInRange(0, 10); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := s.countInRange(4, 8); got != 2 {
		t.Fatalf("expected 2 (5 and 7), got %d", got)
	}
}

func TestOddSet(t *testing.T) {
	o := newOddSet()
	o.insert(ParityBlock{Offset: 3, Size: 1, DiffParity: true})
	o.insert(ParityBlock{Offset: 1, Size: 1, DiffParity: true})
	snap := o.snapshot()
	if len(snap) != 2 || snap[0].Offset != 1 || snap[1].Offset != 3 {
		t.Fatalf("expected sorted snapshot, got %+v", snap)
	}
	if !o.remove(1) {
		t.Fatalf("expected remove to succeed")
	}
	if o.len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", o.len())
	}
}
