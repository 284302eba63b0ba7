// Package encoding provides the column codecs used by compressed chunks:
// zigzag-varint delta encoding for timestamps and XOR-based compression
// for float values.
package encoding
