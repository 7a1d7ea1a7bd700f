package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

// counters are stored as two big-endian uint64s
func encodeCounters(c Counters) []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], c.NextOrderID)
	binary.BigEndian.PutUint64(b[8:], c.NextTradeID)
	return b[:]
}

func decodeCounters(b []byte) (Counters, error) {
	if len(b) != 16 {
		return Counters{}, fmt.Errorf("counters: want 16 bytes, got %d", len(b))
	}
	return Counters{
		NextOrderID: binary.BigEndian.Uint64(b[:8]),
		NextTradeID: binary.BigEndian.Uint64(b[8:]),
	}, nil
}
