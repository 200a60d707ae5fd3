package q3pengine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitqkd/q3pcore/internal/keydb"
)

func TestStoreRoundTrip(t *testing.T) {
	log := zerolog.Nop()

	commonStore := keydb.NewRAMStore(0, 20, 128)
	masterIncoming := keydb.NewRAMStore(0, 500, 32)
	masterOutgoing := keydb.NewRAMStore(0, 500, 32)
	masterApplication := keydb.NewRAMStore(0, 500, 32)

	peerIncoming := keydb.NewRAMStore(0, 500, 32)
	peerOutgoing := keydb.NewRAMStore(0, 500, 32)
	peerApplication := keydb.NewRAMStore(0, 500, 32)

	sender := New(commonStore, masterIncoming, masterOutgoing, masterApplication, log)
	recipient := New(commonStore, peerIncoming, peerOutgoing, peerApplication, log)

	pickup := keydb.NewRAMStore(0, 50, 128) // same quantum as Common Store: 1:1 groups
	fillWithRealKeys(t, pickup, 4)

	msgID, payload, err := sender.BuildStore(pickup, 400)
	require.NoError(t, err)
	require.Len(t, payload.Section.Groups, 4)
	for _, g := range payload.Section.Groups {
		assert.Len(t, g.DestIDs, 1, "pickup quantum equals Common Store quantum, so groups are 1:1")
	}

	ack := recipient.ApplyStore(msgID, pickup, payload)
	assert.Len(t, ack.PickupIDs, 4)

	require.NoError(t, sender.ApplyStoreAck(pickup, ack))

	// The pickup-area keys are gone and the Common Store now holds them,
	// real-sync, at the destination IDs the round assigned.
	for _, g := range payload.Section.Groups {
		key, err := pickup.Get(g.SourceID)
		require.NoError(t, err)
		assert.Nil(t, key, "acknowledged pickup slot must be deleted")
		assert.True(t, commonStore.Valid(g.DestIDs[0]))
	}
}

func TestStoreNothingToStoreErrors(t *testing.T) {
	log := zerolog.Nop()
	commonStore := keydb.NewRAMStore(0, 20, 128)
	incoming := keydb.NewRAMStore(0, 500, 32)
	outgoing := keydb.NewRAMStore(0, 500, 32)
	application := keydb.NewRAMStore(0, 500, 32)
	sender := New(commonStore, incoming, outgoing, application, log)

	pickup := keydb.NewRAMStore(0, 50, 128) // empty: no real keys to draw from

	_, _, err := sender.BuildStore(pickup, 400)
	require.Error(t, err)
}
