package main

import (
	"github.com/rs/zerolog"

	"github.com/aitqkd/q3pcore/internal/bitkey"
	"github.com/aitqkd/q3pcore/internal/q3pengine"
	"github.com/aitqkd/q3pcore/internal/q3pcrypto"
)

// primeFromSecret derives the crypto association from the shared initial
// secret and primes the engine's Incoming/Outgoing buffers with the
// remaining bytes split in half — spec.md §6's "two even halves for
// buffer priming" — so the very first authentication tag after handshake
// is already backed by real, mutually-known material rather than waiting
// on a first LOAD round.
func primeFromSecret(engine *q3pengine.Engine, secret []byte, log zerolog.Logger) (*q3pcrypto.Association, error) {
	assoc, remainder, err := q3pcrypto.SeedFromInitialSecret(secret, engine.Slave)
	if err != nil {
		return nil, err
	}

	half := len(remainder) / 2
	outHalf, inHalf := remainder[:half], remainder[half:]
	if engine.Slave {
		outHalf, inHalf = inHalf, outHalf
	}

	quantum := int(engine.Outgoing.Quantum())
	if err := primeBuffer(engine.Outgoing, outHalf, quantum); err != nil {
		return nil, err
	}
	if err := primeBuffer(engine.Incoming, inHalf, quantum); err != nil {
		return nil, err
	}
	log.Info().Int("outgoing_bytes", len(outHalf)).Int("incoming_bytes", len(inHalf)).Msg("primed buffers from initial secret")
	return assoc, nil
}

func primeBuffer(db interface {
	Insert(*bitkey.Key) (uint64, error)
}, material []byte, quantumBytes int) error {
	if quantumBytes == 0 {
		return nil
	}
	for i := 0; i+quantumBytes <= len(material); i += quantumBytes {
		if _, err := db.Insert(bitkey.FromBytes(material[i : i+quantumBytes])); err != nil {
			return err
		}
	}
	return nil
}
