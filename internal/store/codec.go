package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// float32SliceToBytes packs a vector as little-endian IEEE-754 float32s for
// storage in a SQLite BLOB column.
func float32SliceToBytes(v []float32) ([]byte, error) {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}

// bytesToFloat32Slice is the inverse of float32SliceToBytes.
func bytesToFloat32Slice(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
