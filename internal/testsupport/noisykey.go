// Package testsupport provides test-only helpers for exercising the
// Cascade and Q3P packages without a real quantum link or TCP socket.
package testsupport

import (
	"math/rand"

	"github.com/aitqkd/q3pcore/internal/bitkey"
)

// NoisyKeyPair returns two keys of nBits bits that agree everywhere
// except a fraction errorRate of bit positions, picked uniformly at
// random and seeded by seed for reproducibility.
//
// Adapted from the bit-flip noise injection in a quantum channel
// simulator's Transmit method (a rand.Float64() < noiseLevel threshold
// flip), stripped of qubit/basis/measurement vocabulary: Cascade and
// engine tests need correlated classical bit strings, not a photon model.
func NoisyKeyPair(nBits int, errorRate float64, seed int64) (alice, bob *bitkey.Key) {
	rnd := rand.New(rand.NewSource(seed))
	alice = bitkey.New(nBits)
	bob = bitkey.New(nBits)
	for i := 0; i < nBits; i++ {
		var bit byte
		if rnd.Float64() < 0.5 {
			bit = 1
		}
		alice.SetBit(i, bit)
		if rnd.Float64() < errorRate {
			bit ^= 1
		}
		bob.SetBit(i, bit)
	}
	return alice, bob
}
