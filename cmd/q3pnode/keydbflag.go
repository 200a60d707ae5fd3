package main

import (
	"fmt"
	"strings"

	"github.com/aitqkd/q3pcore/internal/keydb"
)

// openKeyDB opens a Key-DB from a spec of the form "ram" (volatile, for
// short-lived or test links) or "file:<path>" (durable bbolt-backed
// storage, for a node that must survive a restart without losing its
// buffer state).
func openKeyDB(spec string, minID, amount, quantum uint64) (keydb.KeyDB, error) {
	if spec == "ram" || spec == "" {
		return keydb.NewRAMStore(minID, amount, quantum), nil
	}
	path, ok := strings.CutPrefix(spec, "file:")
	if !ok {
		return nil, fmt.Errorf("keydb store %q: expected \"ram\" or \"file:<path>\"", spec)
	}
	return keydb.OpenBoltStore(path, minID, amount, quantum)
}

// bufferQuantum is the fixed Incoming/Outgoing/Application slot size this
// node uses, independent of the Common Store's own quantum.
const bufferQuantum = 32

// commonStoreQuantum is the fixed Common Store slot size.
const commonStoreQuantum = 128
