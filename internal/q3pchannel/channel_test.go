package q3pchannel

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aitqkd/q3pcore/internal/bitkey"
	"github.com/aitqkd/q3pcore/internal/keydb"
	"github.com/aitqkd/q3pcore/internal/q3pcrypto"
	"github.com/aitqkd/q3pcore/internal/q3pmsg"
)

// linkedPair builds two Channels sharing the exact key material each
// side needs for the other to decode — Alice's Outgoing mirrors Bob's
// Incoming and vice versa, the way a real Q3P handshake seeds both
// peers' buffers from the same drawn key stream.
func linkedPair(t *testing.T) (alice, bob *Channel) {
	t.Helper()

	const quantum = 16
	aliceOut := keydb.NewRAMStore(0, 64, quantum)
	aliceIn := keydb.NewRAMStore(0, 64, quantum)
	bobOut := keydb.NewRAMStore(0, 64, quantum)
	bobIn := keydb.NewRAMStore(0, 64, quantum)

	for id := uint64(0); id < 64; id++ {
		k, err := bitkey.RandomKey(quantum * 8)
		require.NoError(t, err)
		require.NoError(t, aliceOut.Set(id, k))
		require.NoError(t, bobIn.Set(id, k.Clone()))

		k2, err := bitkey.RandomKey(quantum * 8)
		require.NoError(t, err)
		require.NoError(t, bobOut.Set(id, k2))
		require.NoError(t, aliceIn.Set(id, k2.Clone()))
	}

	secret := make([]byte, q3pcrypto.InitKeyBytes*4)
	for i := range secret {
		secret[i] = byte(i)
	}
	aliceAssoc, _, err := q3pcrypto.SeedFromInitialSecret(secret, false)
	require.NoError(t, err)
	bobAssoc, _, err := q3pcrypto.SeedFromInitialSecret(secret, true)
	require.NoError(t, err)

	alice = &Channel{ID: 1, Assoc: aliceAssoc, Outgoing: aliceOut, Incoming: aliceIn, CompressThreshold: 1 << 20, Log: zerolog.Nop()}
	bob = &Channel{ID: 1, Assoc: bobAssoc, Outgoing: bobOut, Incoming: bobIn, CompressThreshold: 1 << 20, Log: zerolog.Nop()}
	return alice, bob
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	alice, bob := linkedPair(t)

	payload := []byte("a q3p application payload")
	msg, err := alice.Encode(q3pmsg.ProtocolData, payload, true, true)
	require.NoError(t, err)

	raw := msg.Marshal()
	decoded, err := bob.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, payload, decoded.Payload)
}

func TestEncodeDecodeRoundTripNoCryptoFlags(t *testing.T) {
	alice, bob := linkedPair(t)

	payload := []byte("plain data, no crypto")
	msg, err := alice.Encode(q3pmsg.ProtocolData, payload, false, false)
	require.NoError(t, err)

	raw := msg.Marshal()
	decoded, err := bob.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, payload, decoded.Payload)
}

func TestDecodeRejectsTamperedTag(t *testing.T) {
	alice, bob := linkedPair(t)

	msg, err := alice.Encode(q3pmsg.ProtocolData, []byte("integrity matters"), false, true)
	require.NoError(t, err)

	raw := msg.Marshal()
	raw[len(raw)-1] ^= 0xFF

	_, err = bob.Decode(raw)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrAuth))
}

func TestEncodeConsumesOutgoingKeys(t *testing.T) {
	alice, bob := linkedPair(t)

	before := alice.Outgoing.Count()
	_, err := alice.Encode(q3pmsg.ProtocolData, []byte("consume me"), true, true)
	require.NoError(t, err)
	after := alice.Outgoing.Count()
	require.Less(t, after, before)
	_ = bob
}

func TestDecodeFailsWithoutMatchingIncomingKeys(t *testing.T) {
	alice, bob := linkedPair(t)

	msg, err := alice.Encode(q3pmsg.ProtocolData, []byte("no keys on the other side"), true, true)
	require.NoError(t, err)
	raw := msg.Marshal()

	emptyIn := keydb.NewRAMStore(0, 64, 16)
	bob.Incoming = emptyIn

	_, err = bob.Decode(raw)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrKeys))
}
