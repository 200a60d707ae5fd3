package q3pengine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

func putUint64(buf *bytes.Buffer, v uint64) {
	var u [8]byte
	binary.BigEndian.PutUint64(u[:], v)
	buf.Write(u[:])
}

func getUint64(r *bytes.Reader) (uint64, error) {
	var u [8]byte
	if _, err := io.ReadFull(r, u[:]); err != nil {
		return 0, fmt.Errorf("q3pengine: truncated uint64: %w", err)
	}
	return binary.BigEndian.Uint64(u[:]), nil
}

func putIDs(buf *bytes.Buffer, ids []uint64) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(ids)))
	buf.Write(n[:])
	for _, id := range ids {
		putUint64(buf, id)
	}
}

func getIDs(r *bytes.Reader) ([]uint64, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, fmt.Errorf("q3pengine: truncated id count: %w", err)
	}
	count := binary.BigEndian.Uint32(n[:])
	ids := make([]uint64, count)
	for i := range ids {
		id, err := getUint64(r)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}
