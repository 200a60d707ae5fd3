package keydb

import (
	"fmt"
	"net/url"
)

// Open dispatches a Key-DB backend by URL scheme: `ram://` for an
// in-memory window, `file://<path>` for a bbolt-backed persisted window.
// minID/amount/quantum size the window for either backend.
func Open(rawurl string, minID, amount, quantum uint64) (KeyDB, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("keydb: parse url %q: %w", rawurl, err)
	}

	switch u.Scheme {
	case "ram":
		return NewRAMStore(minID, amount, quantum), nil
	case "file":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return nil, fmt.Errorf("keydb: file:// url %q has no path", rawurl)
		}
		return OpenBoltStore(path, minID, amount, quantum)
	default:
		return nil, fmt.Errorf("keydb: unsupported backend scheme %q", u.Scheme)
	}
}
