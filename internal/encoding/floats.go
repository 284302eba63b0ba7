package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	mathbits "math/bits"
)

// EncodeFloats compresses float64 values by XORing consecutive values and
// storing only the meaningful bits, in the style of the Facebook Gorilla
// paper. Slowly-changing telemetry compresses to a few bits per sample.
func EncodeFloats(values []float64) []byte {
	head := &bytes.Buffer{}
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(values)))
	head.Write(tmp[:n])
	if len(values) == 0 {
		return head.Bytes()
	}

	w := NewBitWriter()
	prev := math.Float64bits(values[0])
	w.WriteBits(prev, 64)

	prevLeading, prevTrailing := uint8(255), uint8(0)
	for _, v := range values[1:] {
		cur := math.Float64bits(v)
		xor := prev ^ cur
		prev = cur

		if xor == 0 {
			w.WriteBit(0)
			continue
		}
		w.WriteBit(1)

		leading := uint8(mathbits.LeadingZeros64(xor))
		if leading > 31 {
			leading = 31
		}
		trailing := uint8(mathbits.TrailingZeros64(xor))

		if prevLeading != 255 && leading >= prevLeading && trailing >= prevTrailing {
			// Fits inside the previous meaningful-bit window.
			w.WriteBit(0)
			sig := 64 - prevLeading - prevTrailing
			w.WriteBits(xor>>prevTrailing, sig)
			continue
		}

		prevLeading, prevTrailing = leading, trailing
		sig := 64 - leading - trailing
		w.WriteBit(1)
		w.WriteBits(uint64(leading), 5)
		w.WriteBits(uint64(sig-1), 6)
		w.WriteBits(xor>>trailing, sig)
	}

	head.Write(w.Bytes())
	return head.Bytes()
}

// DecodeFloats reverses EncodeFloats.
func DecodeFloats(data []byte) ([]float64, error) {
	reader := bytes.NewReader(data)
	count, err := binary.ReadUvarint(reader)
	if err != nil {
		return nil, fmt.Errorf("float count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	rest := data[len(data)-reader.Len():]
	r := NewBitReader(rest)

	first, err := r.ReadBits(64)
	if err != nil {
		return nil, fmt.Errorf("first float: %w", err)
	}
	out := make([]float64, 0, count)
	out = append(out, math.Float64frombits(first))

	prev := first
	leading, trailing := uint8(0), uint8(0)
	for i := uint64(1); i < count; i++ {
		ctrl, err := r.ReadBit()
		if err != nil {
			return nil, fmt.Errorf("float %d: %w", i, err)
		}
		if ctrl == 0 {
			out = append(out, math.Float64frombits(prev))
			continue
		}
		windowCtrl, err := r.ReadBit()
		if err != nil {
			return nil, fmt.Errorf("float %d: %w", i, err)
		}
		if windowCtrl == 1 {
			lz, err := r.ReadBits(5)
			if err != nil {
				return nil, fmt.Errorf("float %d leading: %w", i, err)
			}
			sigMinus1, err := r.ReadBits(6)
			if err != nil {
				return nil, fmt.Errorf("float %d sigbits: %w", i, err)
			}
			leading = uint8(lz)
			trailing = 64 - leading - (uint8(sigMinus1) + 1)
		}
		sig := 64 - leading - trailing
		bits, err := r.ReadBits(sig)
		if err != nil {
			return nil, fmt.Errorf("float %d payload: %w", i, err)
		}
		prev ^= bits << trailing
		out = append(out, math.Float64frombits(prev))
	}
	return out, nil
}
