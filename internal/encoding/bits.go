package encoding

import "errors"

// ErrShortBuffer is returned when a reader runs out of bits.
var ErrShortBuffer = errors.New("encoding: short buffer")

// BitWriter accumulates bits into a byte slice, most significant bit first.
type BitWriter struct {
	buf  []byte
	free uint8 // free bits in the last byte
}

// NewBitWriter creates an empty bit writer.
func NewBitWriter() *BitWriter {
	return &BitWriter{}
}

// WriteBit appends a single bit.
func (w *BitWriter) WriteBit(bit uint8) {
	if w.free == 0 {
		w.buf = append(w.buf, 0)
		w.free = 8
	}
	if bit != 0 {
		w.buf[len(w.buf)-1] |= 1 << (w.free - 1)
	}
	w.free--
}

// WriteBits appends the low n bits of v, most significant first.
func (w *BitWriter) WriteBits(v uint64, n uint8) {
	for n > 0 {
		n--
		w.WriteBit(uint8((v >> n) & 1))
	}
}

// Bytes returns the accumulated bytes.
func (w *BitWriter) Bytes() []byte {
	return w.buf
}

// BitReader consumes bits from a byte slice, most significant bit first.
type BitReader struct {
	buf []byte
	pos int   // byte position
	bit uint8 // next bit within buf[pos], 0 = MSB
}

// NewBitReader creates a reader over data.
func NewBitReader(data []byte) *BitReader {
	return &BitReader{buf: data}
}

// ReadBit consumes one bit.
func (r *BitReader) ReadBit() (uint8, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrShortBuffer
	}
	bit := (r.buf[r.pos] >> (7 - r.bit)) & 1
	r.bit++
	if r.bit == 8 {
		r.bit = 0
		r.pos++
	}
	return bit, nil
}

// ReadBits consumes n bits and returns them right-aligned.
func (r *BitReader) ReadBits(n uint8) (uint64, error) {
	var v uint64
	for i := uint8(0); i < n; i++ {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | uint64(bit)
	}
	return v, nil
}
