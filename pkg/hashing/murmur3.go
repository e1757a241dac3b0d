// Package hashing implements the deterministic bucketing hash shared by
// every SDK: MurmurHash3 x86 32-bit. Results must match the reference
// implementation bit for bit.
package hashing

import (
	"encoding/binary"
	"math/bits"
)

const (
	c1 uint32 = 0xcc9e2d51
	c2 uint32 = 0x1b873593
	n  uint32 = 0xe6546b64

	fmix1 uint32 = 0x85ebca6b
	fmix2 uint32 = 0xc2b2ae35
)

// Hash32 returns the MurmurHash3 x86_32 digest of data.
func Hash32(data []byte, seed uint32) uint32 {
	h := seed
	length := len(data)
	nblocks := length / 4

	for i := 0; i < nblocks; i++ {
		k := binary.LittleEndian.Uint32(data[i*4:])
		k *= c1
		k = bits.RotateLeft32(k, 15)
		k *= c2

		h ^= k
		h = bits.RotateLeft32(h, 13)
		h = h*5 + n
	}

	tail := data[nblocks*4:]
	var k uint32
	switch len(tail) {
	case 3:
		k ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k ^= uint32(tail[0])
		k *= c1
		k = bits.RotateLeft32(k, 15)
		k *= c2
		h ^= k
	}

	h ^= uint32(length)
	h ^= h >> 16
	h *= fmix1
	h ^= h >> 13
	h *= fmix2
	h ^= h >> 16

	return h
}

// Hash32String hashes the UTF-8 bytes of s with seed 0.
func Hash32String(s string) uint32 {
	return Hash32([]byte(s), 0)
}

// BucketPercent maps id to a stable bucket in [0, 100).
func BucketPercent(id string) uint32 {
	return (Hash32String(id) & 0x7FFFFFFF) % 100
}

// BucketFraction maps input to a stable value in [0, 1) with a resolution
// of 1/10000.
func BucketFraction(input string) float64 {
	return float64((Hash32String(input)&0x7FFFFFFF)%10000) / 10000.0
}
