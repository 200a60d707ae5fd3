package bitkey

import "testing"

func TestSetGetFlipBit(t *testing.T) {
	k := New(16)
	k.SetBit(0, 1)
	k.SetBit(15, 1)
	if k.GetBit(0) != 1 || k.GetBit(15) != 1 {
		t.Fatalf("expected bits 0 and 15 set")
	}
	if k.GetBit(1) != 0 {
		t.Fatalf("expected bit 1 clear")
	}
	if v := k.FlipBit(0); v != 0 {
		t.Fatalf("expected flip to clear bit 0, got %d", v)
	}
	if k.GetBit(0) != 0 {
		t.Fatalf("expected bit 0 clear after flip")
	}
}

func TestXor(t *testing.T) {
	a := FromBytes([]byte{0xff, 0x00})
	b := FromBytes([]byte{0x0f, 0xff})
	x, err := a.Xor(b)
	if err != nil {
		t.Fatal(err)
	}
	want := FromBytes([]byte{0xf0, 0xff})
	if !x.Equal(want) {
		t.Fatalf("xor mismatch: got %v want %v", x.Bytes(), want.Bytes())
	}
}

func TestXorLengthMismatch(t *testing.T) {
	a := New(8)
	b := New(16)
	if _, err := a.Xor(b); err == nil {
		t.Fatal("expected error on length mismatch")
	}
}

func TestParity(t *testing.T) {
	k := FromBytes([]byte{0b10110000})
	if p := k.Parity(0, 8); p != 1 {
		t.Fatalf("expected odd parity, got %d", p)
	}
	if p := k.Parity(0, 2); p != 1 {
		t.Fatalf("expected parity 1 over first two bits, got %d", p)
	}
}

func TestSliceAndClone(t *testing.T) {
	k := FromBytes([]byte{0xab, 0xcd})
	s := k.Slice(4, 12)
	if s.Len() != 8 {
		t.Fatalf("expected 8-bit slice, got %d", s.Len())
	}
	clone := k.Clone()
	clone.FlipBit(0)
	if clone.Equal(k) {
		t.Fatalf("clone should diverge from original after mutation")
	}
}

func TestStateTransitions(t *testing.T) {
	m := &Meta{ID: 1, State: StateRaw}
	steps := []State{StateSifted, StateReconciled, StateConfirmed, StateAuthenticated, StateDisclosed}
	for _, s := range steps {
		if err := m.Advance(s); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	if err := m.Advance(StateRaw); err == nil {
		t.Fatal("expected error advancing out of disclosed state")
	}
}

func TestStateRejectsBackwardMove(t *testing.T) {
	m := &Meta{State: StateReconciled}
	if err := m.Advance(StateRaw); err == nil {
		t.Fatal("expected error moving backward in the lattice")
	}
}
