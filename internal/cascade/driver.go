package cascade

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mrand "math/rand"

	"github.com/rs/zerolog"

	"github.com/aitqkd/q3pcore/internal/bitkey"
)

const defaultPasses = 14

// SeedSource draws the permutation seed Alice sends to Bob at the start of
// a frame. The default implementation (DefaultSeedSource) draws from
// crypto/rand; tests substitute a deterministic source.
type SeedSource func() (uint64, error)

// DefaultSeedSource draws an unpredictable 64-bit seed from crypto/rand.
func DefaultSeedSource() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("cascade: draw seed: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// Driver runs the fixed sequence of Cascade passes over a frame, deriving
// the block-size schedule from the key's expected error rate the way the
// original module derives it from opt. (8) of Martinez-Mateo et al.,
// "Demystifying the Information Reconciliation Protocol Cascade".
type Driver struct {
	Peer  Peer
	IsBob bool
	Log   zerolog.Logger

	// Passes is the number of Cascade passes to run. Zero means 14, the
	// original module's default.
	Passes int

	// ErrorRate is rho, the expected bit error rate used to size the
	// first two passes' blocks. Zero means "no prior estimate": passes 1,
	// 2 and 4 onward then use blocks of half the key, and pass 3 uses half
	// the key capped at 4096 bits, as the original does on its very first
	// run.
	ErrorRate float64

	// SeedSource supplies Alice's permutation seed. Nil means
	// DefaultSeedSource.
	SeedSource SeedSource
}

func (d *Driver) passes() int {
	if d.Passes <= 0 {
		return defaultPasses
	}
	return d.Passes
}

// blockSizeSchedule computes k1..k4 per the original module's process().
func blockSizeSchedule(rho float64, nBits uint64) (k1, k2, k3, k4 uint64) {
	half := (nBits + 1) / 2
	if rho != 0.0 {
		alpha := int64(math.Round(math.Ceil(math.Log2(1.0/rho) - 0.5)))
		if rho <= 0.25 {
			k1 = minU64(uint64(1)<<uint(alpha), half)
		} else {
			shift := alpha - 1
			if shift < 0 {
				shift = 0
			}
			k1 = minU64(uint64(1)<<uint(shift), half)
		}
		k2 = minU64(uint64(1)<<uint(int64(math.Round(math.Ceil((float64(alpha)+12.0)/2.0)))), half)
	} else {
		k1 = half
		k2 = half
	}
	k3 = minU64(4096, half)
	k4 = half
	return
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func identityPermutation(n uint64) (perm, inv []uint64) {
	perm = make([]uint64, n)
	inv = make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		perm[i] = i
		inv[i] = i
	}
	return
}

func randomPermutation(rnd *mrand.Rand, n uint64) (perm, inv []uint64) {
	perm = make([]uint64, n)
	inv = make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		perm[i] = i
	}
	for i := uint64(0); i < n; i++ {
		r := i + uint64(rnd.Int63n(int64(n-i)))
		perm[i], perm[r] = perm[r], perm[i]
	}
	for i := uint64(0); i < n; i++ {
		inv[perm[i]] = i
	}
	return
}

// Run reconciles key against the peer's copy, returning the Frame that
// accumulated the run's bookkeeping (transmitted messages/parities,
// corrected bit positions) so the caller can stamp key metadata.
func (d *Driver) Run(ctx context.Context, key *bitkey.Key) (*Frame, error) {
	nBits := uint64(key.Len())
	frame := NewFrame(key)

	k1, k2, k3, k4 := blockSizeSchedule(d.ErrorRate, nBits)

	seed, err := d.exchangeSeed(ctx, frame)
	if err != nil {
		return nil, err
	}
	rnd := mrand.New(mrand.NewSource(int64(seed)))

	var checkers []*ParityChecker

	for step := 1; step <= d.passes(); step++ {
		var k uint64
		switch step {
		case 1:
			k = k1
		case 2:
			k = k2
		case 3:
			k = k3
		default:
			k = k4
		}

		var perm, invPerm []uint64
		evenRequired := step >= 2
		if step == 1 {
			perm, invPerm = identityPermutation(nBits)
		} else {
			perm, invPerm = randomPermutation(rnd, nBits)
		}

		cat := Category{Size: nBits, K: k, DiffParityMustBeEven: evenRequired}
		checker, err := NewParityChecker(ctx, frame, perm, invPerm, []Category{cat}, d.Peer, d.IsBob, d.Log)
		if err != nil {
			return nil, fmt.Errorf("cascade: pass %d: %w", step, err)
		}
		frame.AddChecker(checker)
		checkers = append(checkers, checker)

		if step == 1 {
			if err := checker.CorrectBlocks(ctx, checker.OddBlocks()); err != nil {
				return nil, fmt.Errorf("cascade: pass %d correction: %w", step, err)
			}
			continue
		}

		for {
			idx := -1
			for i, c := range checkers {
				if len(c.OddBlocks()) > 0 {
					idx = i
					break
				}
			}
			if idx < 0 {
				break
			}
			if err := checkers[idx].CorrectBlocks(ctx, checkers[idx].OddBlocks()); err != nil {
				return nil, fmt.Errorf("cascade: pass %d cross-correction: %w", step, err)
			}
		}
	}

	nCorrected := len(frame.CorrectedBits())

	d.Log.Debug().
		Int("corrected_bits", nCorrected).
		Uint64("disclosed_bits", frame.TransmittedParities()).
		Uint64("messages", frame.TransmittedMessages()).
		Msg("cascade run complete")

	// spec.md §4.3's post-reconciliation meta write: disclosed-bits comes
	// from the parities actually transmitted, error-rate from the fraction
	// of bits Cascade ended up correcting.
	meta := frame.Meta()
	meta.DisclosedBits = frame.TransmittedParities()
	if nBits > 0 {
		meta.ErrorRate = float64(nCorrected) / float64(nBits)
	}
	if err := meta.Advance(bitkey.StateReconciled); err != nil {
		return nil, fmt.Errorf("cascade: stamping key meta: %w", err)
	}

	return frame, nil
}

func (d *Driver) exchangeSeed(ctx context.Context, frame *Frame) (uint64, error) {
	if !d.IsBob {
		source := d.SeedSource
		if source == nil {
			source = DefaultSeedSource
		}
		seed, err := source()
		if err != nil {
			return 0, fmt.Errorf("cascade: draw permutation seed: %w", err)
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], seed)
		if err := d.Peer.Send(ctx, b[:]); err != nil {
			return 0, fmt.Errorf("cascade: send permutation seed: %w", err)
		}
		// Open question (c): the seed exchange counts as a transmitted
		// message like any other Cascade round-trip.
		frame.AddTransmittedMessages(1)
		return seed, nil
	}

	b, err := d.Peer.Recv(ctx)
	if err != nil {
		return 0, fmt.Errorf("cascade: recv permutation seed: %w", err)
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("cascade: permutation seed: expected 8 bytes, got %d", len(b))
	}
	frame.AddTransmittedMessages(1)
	return binary.BigEndian.Uint64(b), nil
}
