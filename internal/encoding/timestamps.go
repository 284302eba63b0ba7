package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeTimestamps compresses a sorted int64 slice using zigzag-varint
// delta encoding. Regular sampling intervals collapse to one byte per
// timestamp.
func EncodeTimestamps(ts []int64) []byte {
	buf := &bytes.Buffer{}
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(len(ts)))
	buf.Write(tmp[:n])

	prev := int64(0)
	for _, t := range ts {
		n = binary.PutVarint(tmp[:], t-prev)
		buf.Write(tmp[:n])
		prev = t
	}
	return buf.Bytes()
}

// DecodeTimestamps reverses EncodeTimestamps.
func DecodeTimestamps(data []byte) ([]int64, error) {
	reader := bytes.NewReader(data)
	count, err := binary.ReadUvarint(reader)
	if err != nil {
		return nil, fmt.Errorf("timestamp count: %w", err)
	}
	out := make([]int64, 0, count)
	prev := int64(0)
	for i := uint64(0); i < count; i++ {
		delta, err := binary.ReadVarint(reader)
		if err != nil {
			return nil, fmt.Errorf("timestamp delta %d: %w", i, err)
		}
		prev += delta
		out = append(out, prev)
	}
	return out, nil
}
