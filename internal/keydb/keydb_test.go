package keydb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aitqkd/q3pcore/internal/bitkey"
)

func backends(t *testing.T, minID, amount, quantum uint64) map[string]KeyDB {
	t.Helper()
	ram := NewRAMStore(minID, amount, quantum)

	dir := t.TempDir()
	bolt, err := OpenBoltStore(filepath.Join(dir, "keys.db"), minID, amount, quantum)
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]KeyDB{"ram": ram, "bolt": bolt}
}

func randomKey(t *testing.T) *bitkey.Key {
	t.Helper()
	k, err := bitkey.RandomKey(128)
	require.NoError(t, err)
	return k
}

func TestInsertGetDel(t *testing.T) {
	for name, db := range backends(t, 0, 8, 16) {
		t.Run(name, func(t *testing.T) {
			k := randomKey(t)
			id, err := db.Insert(k)
			require.NoError(t, err)

			got, err := db.Get(id)
			require.NoError(t, err)
			require.True(t, got.Equal(k))

			require.NoError(t, db.Del(id))
			got, err = db.Get(id)
			require.NoError(t, err)
			require.Nil(t, got)
		})
	}
}

func TestValidRequiresRealSync(t *testing.T) {
	for name, db := range backends(t, 0, 4, 16) {
		t.Run(name, func(t *testing.T) {
			id, err := db.Insert(randomKey(t))
			require.NoError(t, err)
			require.True(t, db.Valid(id))
			require.False(t, db.Valid(id+100))
		})
	}
}

func TestFindValidReservesAndRollsBack(t *testing.T) {
	for name, db := range backends(t, 0, 8, 16) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 4; i++ {
				_, err := db.Insert(randomKey(t))
				require.NoError(t, err)
			}

			ids, err := db.FindValid(32, 1)
			require.NoError(t, err)
			require.Len(t, ids, 2)

			_, err = db.FindValid(32, 1)
			require.Error(t, err, "already-reserved slots must not be handed out twice")

			require.NoError(t, db.SetKeyCount(ids, 0))

			ids2, err := db.FindValid(32, 1)
			require.NoError(t, err)
			require.Len(t, ids2, 2)
		})
	}
}

func TestFindSpareExcludesFilled(t *testing.T) {
	for name, db := range backends(t, 0, 4, 16) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Insert(randomKey(t))
			require.NoError(t, err)

			ids, err := db.FindSpare(48, 1)
			require.NoError(t, err)
			require.Len(t, ids, 3)
		})
	}
}

func TestFindContinuousRequiresAdjacentIDs(t *testing.T) {
	for name, db := range backends(t, 0, 4, 16) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 2; i++ {
				_, err := db.Insert(randomKey(t))
				require.NoError(t, err)
			}

			ids, err := db.FindContinuous(32, 1)
			require.NoError(t, err)
			require.Len(t, ids, 2)
			require.Equal(t, ids[1], ids[0]+1)
		})
	}
}

func TestFindContinuousFailsWhenOnlyGappedValidSlotsExist(t *testing.T) {
	for name, db := range backends(t, 0, 3, 16) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Set(0, randomKey(t)))
			require.NoError(t, db.Set(2, randomKey(t))) // leaves id 1 free — no contiguous run of 2

			_, err := db.FindContinuous(32, 1)
			require.Error(t, err)
		})
	}
}

func TestChargeListenerFires(t *testing.T) {
	for name, db := range backends(t, 0, 4, 16) {
		t.Run(name, func(t *testing.T) {
			var added, removed uint64
			db.OnChargeChange(func(a, r uint64) { added += a; removed += r })

			id, err := db.Insert(randomKey(t))
			require.NoError(t, err)
			require.Equal(t, uint64(1), added)

			require.NoError(t, db.Del(id))
			require.Equal(t, uint64(1), removed)
		})
	}
}

func TestInsertExhaustsWindow(t *testing.T) {
	for name, db := range backends(t, 0, 1, 16) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Insert(randomKey(t))
			require.NoError(t, err)
			_, err = db.Insert(randomKey(t))
			require.Error(t, err)
		})
	}
}
