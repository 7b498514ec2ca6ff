package core

import (
	"fmt"
	"math/bits"
	"strings"
)

// Snapshot is an immutable copy of a BitStore.
//
// Packed layout: bit i lives in byte i/8 at position i%8, least significant
// bit first. Padding bits past Len are always zero.
type Snapshot struct {
	words []uint64
	size  uint
}

// SnapshotFromBytes rebuilds a snapshot of size bits from its packed encoding.
func SnapshotFromBytes(data []byte, size uint) (*Snapshot, error) {
	if uint(len(data)) != (size+7)/8 {
		return nil, fmt.Errorf("%w: %d bytes for %d bits", ErrInvalidSnapshot, len(data), size)
	}
	if rem := size % 8; rem != 0 && data[len(data)-1]>>rem != 0 {
		return nil, fmt.Errorf("%w: padding bits set", ErrInvalidSnapshot)
	}

	words := make([]uint64, (size+wordBits-1)/wordBits)
	for i, b := range data {
		words[i/8] |= uint64(b) << (8 * (i % 8))
	}
	return &Snapshot{words: words, size: size}, nil
}

// Len returns the number of bits in the snapshot.
func (s *Snapshot) Len() uint {
	return s.size
}

// Test reports whether bit i is set. Out-of-range indices read as false.
func (s *Snapshot) Test(i uint) bool {
	if i >= s.size {
		return false
	}
	return s.words[i/wordBits]&(1<<(i%wordBits)) != 0
}

// Count returns the number of set bits.
func (s *Snapshot) Count() uint {
	var n int
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return uint(n)
}

// Bytes returns the packed encoding, ceil(Len/8) bytes long.
func (s *Snapshot) Bytes() []byte {
	out := make([]byte, (s.size+7)/8)
	for i := range out {
		out[i] = byte(s.words[i/8] >> (8 * (i % 8)))
	}
	return out
}

// Bits returns one 0/1 value per bit, index 0 first.
func (s *Snapshot) Bits() []uint8 {
	out := make([]uint8, s.size)
	for i := uint(0); i < s.size; i++ {
		if s.Test(i) {
			out[i] = 1
		}
	}
	return out
}

// Equal reports whether two snapshots hold the same bits.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if other == nil || s.size != other.size {
		return false
	}
	for i := range s.words {
		if s.words[i] != other.words[i] {
			return false
		}
	}
	return true
}

// String renders the bits as 0/1 characters, index 0 first.
func (s *Snapshot) String() string {
	var b strings.Builder
	b.Grow(int(s.size))
	for i := uint(0); i < s.size; i++ {
		if s.Test(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
