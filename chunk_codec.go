package telemetra

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/golang/snappy"

	"github.com/telemetra-db/telemetra/internal/encoding"
)

// Compressed chunk blob layout:
//
//	+--------------------+
//	| magic "TLC1"       |
//	| crc32 of body (LE) |
//	| snappy(body)       |
//	+--------------------+
//
// Body:
//
//	header: start, end, minTime, maxTime, rowCount (int64 LE)
//	series count (uint32 LE)
//	per series, sorted by key:
//	  device, metric, unit strings
//	  timestamp column (delta varint)
//	  value column (XOR floats)
//	  kind bytes, quality bytes
//	  string values (count + strings, 0 when all numeric)
//	  tagged rows (row index + pairs, usually 0)
var chunkMagic = [4]byte{'T', 'L', 'C', '1'}

type decodedChunk struct {
	start    int64
	end      int64
	minTime  int64
	maxTime  int64
	rowCount int64
	series   map[SeriesKey]*seriesColumn
}

func encodeChunk(start, end, minTime, maxTime, rowCount int64, series map[SeriesKey]*seriesColumn) ([]byte, error) {
	body := &bytes.Buffer{}
	for _, v := range []int64{start, end, minTime, maxTime, rowCount} {
		if err := binary.Write(body, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}

	keys := make([]SeriesKey, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	if err := binary.Write(body, binary.LittleEndian, uint32(len(keys))); err != nil {
		return nil, err
	}

	for _, key := range keys {
		col := series[key]
		writeString(body, col.deviceID)
		writeString(body, col.metric)
		writeString(body, col.unit)

		writeBlock(body, encoding.EncodeTimestamps(col.ts))
		writeBlock(body, encoding.EncodeFloats(col.val))
		writeBlock(body, col.kind)
		writeBlock(body, col.quality)

		hasStr := false
		for _, s := range col.str {
			if s != "" {
				hasStr = true
				break
			}
		}
		if hasStr {
			if err := binary.Write(body, binary.LittleEndian, uint32(len(col.str))); err != nil {
				return nil, err
			}
			for _, s := range col.str {
				writeString(body, s)
			}
		} else {
			if err := binary.Write(body, binary.LittleEndian, uint32(0)); err != nil {
				return nil, err
			}
		}

		var taggedRows []int
		for i, t := range col.tags {
			if len(t) > 0 {
				taggedRows = append(taggedRows, i)
			}
		}
		if err := binary.Write(body, binary.LittleEndian, uint32(len(taggedRows))); err != nil {
			return nil, err
		}
		for _, row := range taggedRows {
			if err := binary.Write(body, binary.LittleEndian, uint32(row)); err != nil {
				return nil, err
			}
			t := col.tags[row]
			if err := binary.Write(body, binary.LittleEndian, uint16(len(t))); err != nil {
				return nil, err
			}
			tagKeys := make([]string, 0, len(t))
			for k := range t {
				tagKeys = append(tagKeys, k)
			}
			sort.Strings(tagKeys)
			for _, k := range tagKeys {
				writeString(body, k)
				writeString(body, t[k])
			}
		}
	}

	raw := body.Bytes()
	out := &bytes.Buffer{}
	out.Write(chunkMagic[:])
	if err := binary.Write(out, binary.LittleEndian, crc32.ChecksumIEEE(raw)); err != nil {
		return nil, err
	}
	out.Write(snappy.Encode(nil, raw))
	return out.Bytes(), nil
}

func decodeChunk(data []byte) (*decodedChunk, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], chunkMagic[:]) {
		return nil, fmt.Errorf("chunk blob: bad magic")
	}
	checksum := binary.LittleEndian.Uint32(data[4:8])
	raw, err := snappy.Decode(nil, data[8:])
	if err != nil {
		return nil, fmt.Errorf("chunk blob: %w", err)
	}
	if crc32.ChecksumIEEE(raw) != checksum {
		return nil, fmt.Errorf("chunk blob: checksum mismatch")
	}

	reader := bytes.NewReader(raw)
	d := &decodedChunk{series: make(map[SeriesKey]*seriesColumn)}
	for _, dst := range []*int64{&d.start, &d.end, &d.minTime, &d.maxTime, &d.rowCount} {
		if err := binary.Read(reader, binary.LittleEndian, dst); err != nil {
			return nil, err
		}
	}

	var seriesCount uint32
	if err := binary.Read(reader, binary.LittleEndian, &seriesCount); err != nil {
		return nil, err
	}

	for i := uint32(0); i < seriesCount; i++ {
		col := &seriesColumn{}
		if col.deviceID, err = readString(reader); err != nil {
			return nil, err
		}
		if col.metric, err = readString(reader); err != nil {
			return nil, err
		}
		if col.unit, err = readString(reader); err != nil {
			return nil, err
		}

		tsBlock, err := readBlock(reader)
		if err != nil {
			return nil, err
		}
		if col.ts, err = encoding.DecodeTimestamps(tsBlock); err != nil {
			return nil, err
		}
		valBlock, err := readBlock(reader)
		if err != nil {
			return nil, err
		}
		if col.val, err = encoding.DecodeFloats(valBlock); err != nil {
			return nil, err
		}
		if col.kind, err = readBlock(reader); err != nil {
			return nil, err
		}
		if col.quality, err = readBlock(reader); err != nil {
			return nil, err
		}

		rows := len(col.ts)
		if len(col.val) != rows || len(col.kind) != rows || len(col.quality) != rows {
			return nil, fmt.Errorf("chunk blob: column length mismatch for %s/%s", col.deviceID, col.metric)
		}

		var strCount uint32
		if err := binary.Read(reader, binary.LittleEndian, &strCount); err != nil {
			return nil, err
		}
		col.str = make([]string, rows)
		if strCount > 0 {
			if int(strCount) != rows {
				return nil, fmt.Errorf("chunk blob: string column length mismatch")
			}
			for j := 0; j < rows; j++ {
				if col.str[j], err = readString(reader); err != nil {
					return nil, err
				}
			}
		}

		col.tags = make([]map[string]string, rows)
		var taggedCount uint32
		if err := binary.Read(reader, binary.LittleEndian, &taggedCount); err != nil {
			return nil, err
		}
		for j := uint32(0); j < taggedCount; j++ {
			var row uint32
			if err := binary.Read(reader, binary.LittleEndian, &row); err != nil {
				return nil, err
			}
			if int(row) >= rows {
				return nil, fmt.Errorf("chunk blob: tag row out of range")
			}
			var pairs uint16
			if err := binary.Read(reader, binary.LittleEndian, &pairs); err != nil {
				return nil, err
			}
			t := make(map[string]string, pairs)
			for p := uint16(0); p < pairs; p++ {
				k, err := readString(reader)
				if err != nil {
					return nil, err
				}
				v, err := readString(reader)
				if err != nil {
					return nil, err
				}
				t[k] = v
			}
			col.tags[row] = t
		}

		d.series[SeriesKey{DeviceID: col.deviceID, Metric: col.metric}] = col
	}

	return d, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(s)))
	buf.Write(tmp[:n])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n > uint64(r.Len()) {
		return "", fmt.Errorf("chunk blob: truncated string")
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBlock(buf *bytes.Buffer, data []byte) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(data)))
	buf.Write(tmp[:n])
	buf.Write(data)
}

func readBlock(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("chunk blob: truncated block")
	}
	b := make([]byte, n)
	if n == 0 {
		return b, nil
	}
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
