package q3pengine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseRole(t *testing.T) {
	cases := []struct {
		name                     string
		localMaster, localSlave  bool
		peerMaster, peerSlave    bool
		localNonce, peerNonce    uint32
		wantMaster               bool
		wantErr                  bool
	}{
		{
			name: "both decided, no conflict honors local",
			localMaster: true, localSlave: false,
			peerMaster: false, peerSlave: true,
			wantMaster: true,
		},
		{
			name: "both decided, conflict falls back to dice roll",
			localMaster: true, localSlave: false,
			peerMaster: true, peerSlave: false,
			localNonce: 4, peerNonce: 7,
			wantMaster: true, // sum 11 odd -> lower nonce is master, local(4) < peer(7)
		},
		{
			name: "only local decided honors local",
			localMaster: false, localSlave: true,
			peerMaster: false, peerSlave: false,
			wantMaster: false,
		},
		{
			name: "only peer decided adopts inverse of peer",
			localMaster: false, localSlave: false,
			peerMaster: false, peerSlave: true,
			wantMaster: true,
		},
		{
			name:       "neither decided falls back to dice roll",
			localNonce: 2, peerNonce: 5,
			wantMaster: true, // sum 7 odd -> lower nonce is master, and local(2) is the lower one
		},
		{
			name:       "nonce collision is a hard failure",
			localNonce: 9, peerNonce: 9,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := chooseRole(tc.localMaster, tc.localSlave, tc.peerMaster, tc.peerSlave, tc.localNonce, tc.peerNonce)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantMaster, got)
		})
	}
}

func TestDiceRoll(t *testing.T) {
	t.Run("collision errors", func(t *testing.T) {
		_, err := diceRoll(3, 3)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfig))
	})

	t.Run("even sum picks the higher nonce", func(t *testing.T) {
		// 4 + 6 = 10, even -> higher nonce (6) is master
		isMaster, err := diceRoll(4, 6)
		require.NoError(t, err)
		assert.False(t, isMaster) // local=4 is the lower one

		isMaster, err = diceRoll(6, 4)
		require.NoError(t, err)
		assert.True(t, isMaster) // local=6 is the higher one
	})

	t.Run("odd sum picks the lower nonce", func(t *testing.T) {
		// 4 + 7 = 11, odd -> lower nonce (4) is master
		isMaster, err := diceRoll(4, 7)
		require.NoError(t, err)
		assert.True(t, isMaster) // local=4 is the lower one

		isMaster, err = diceRoll(7, 4)
		require.NoError(t, err)
		assert.False(t, isMaster) // local=7 is the higher one
	})

	t.Run("is deterministic and symmetric across swapped nonces", func(t *testing.T) {
		a, err := diceRoll(10, 20)
		require.NoError(t, err)
		b, err := diceRoll(20, 10)
		require.NoError(t, err)
		assert.NotEqual(t, a, b, "exactly one side of a dice roll wins the master role")
	})
}
