package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenKeyDBRAM(t *testing.T) {
	db, err := openKeyDB("ram", 0, 16, 32)
	require.NoError(t, err)
	defer db.Close()
	assert.EqualValues(t, 32, db.Quantum())
	assert.EqualValues(t, 16, db.Amount())
}

func TestOpenKeyDBDefaultsToRAM(t *testing.T) {
	db, err := openKeyDB("", 0, 16, 32)
	require.NoError(t, err)
	defer db.Close()
	assert.EqualValues(t, 32, db.Quantum())
}

func TestOpenKeyDBFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.bolt")
	db, err := openKeyDB("file:"+path, 0, 16, 32)
	require.NoError(t, err)
	defer db.Close()
	assert.EqualValues(t, 32, db.Quantum())
}

func TestOpenKeyDBRejectsUnknownSpec(t *testing.T) {
	_, err := openKeyDB("nfs:///mnt/keys", 0, 16, 32)
	assert.Error(t, err)
}
