// Package rsync implements the block signature, delta, and patch primitives
// used by the file sync protocol. A signature summarises a file as one
// rolling checksum plus a truncated BLAKE2b hash per 4 KiB block; a delta
// describes how to rebuild a newer file from blocks of the signed one.
//
// Both peers are this binary, so the serialised forms below are the wire
// format. Parameters are fixed: block size 4096, strong hash prefix 8 bytes.
package rsync

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	// BlockSize is the signature block granularity.
	BlockSize = 4096
	// StrongLen is the truncated BLAKE2b digest length per block.
	StrongLen = 8
)

// BlockSum summarises one block.
type BlockSum struct {
	Rolling uint32
	Strong  [StrongLen]byte
}

// Signature is the block summary of a whole file.
type Signature struct {
	BlockSize uint32
	StrongLen uint32
	Blocks    []BlockSum
}

// delta op tags.
const (
	opLiteral = 0x00
	opCopy    = 0x01
)

func strongSum(p []byte) (out [StrongLen]byte) {
	var h, err = blake2b.New(StrongLen, nil)
	if err != nil {
		panic(err) // digest size is a constant in range
	}
	h.Write(p)
	copy(out[:], h.Sum(nil))
	return out
}

// rollingSum is the rsync weak checksum: two 16-bit running sums packed
// into one u32, cheap to slide one byte at a time.
func rollingSum(p []byte) (a, b uint32) {
	for i, x := range p {
		a += uint32(x)
		b += uint32(len(p)-i) * uint32(x)
	}
	return a & 0xffff, b & 0xffff
}

func packSum(a, b uint32) uint32 { return a | b<<16 }

// Sum computes the signature of data.
func Sum(data []byte) *Signature {
	var sig = &Signature{BlockSize: BlockSize, StrongLen: StrongLen}
	for start := 0; start < len(data); start += BlockSize {
		var end = start + BlockSize
		if end > len(data) {
			end = len(data)
		}
		var block = data[start:end]
		var a, b = rollingSum(block)
		sig.Blocks = append(sig.Blocks, BlockSum{
			Rolling: packSum(a, b),
			Strong:  strongSum(block),
		})
	}
	return sig
}

// Marshal serialises the signature for the wire.
func (s *Signature) Marshal() []byte {
	var out = make([]byte, 0, 12+len(s.Blocks)*(4+StrongLen))
	out = binary.LittleEndian.AppendUint32(out, s.BlockSize)
	out = binary.LittleEndian.AppendUint32(out, s.StrongLen)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(s.Blocks)))
	for _, b := range s.Blocks {
		out = binary.LittleEndian.AppendUint32(out, b.Rolling)
		out = append(out, b.Strong[:]...)
	}
	return out
}

// ParseSignature deserialises a signature produced by Marshal.
func ParseSignature(p []byte) (*Signature, error) {
	if len(p) < 12 {
		return nil, fmt.Errorf("signature truncated: %d bytes", len(p))
	}
	var sig = &Signature{
		BlockSize: binary.LittleEndian.Uint32(p),
		StrongLen: binary.LittleEndian.Uint32(p[4:]),
	}
	if sig.BlockSize != BlockSize || sig.StrongLen != StrongLen {
		return nil, fmt.Errorf("unsupported signature parameters: block=%d strong=%d",
			sig.BlockSize, sig.StrongLen)
	}
	var count = binary.LittleEndian.Uint32(p[8:])
	p = p[12:]
	if uint32(len(p)) != count*(4+StrongLen) {
		return nil, fmt.Errorf("signature body mismatch: %d bytes for %d blocks", len(p), count)
	}
	if count > 0 {
		sig.Blocks = make([]BlockSum, count)
	}
	for i := range sig.Blocks {
		sig.Blocks[i].Rolling = binary.LittleEndian.Uint32(p)
		copy(sig.Blocks[i].Strong[:], p[4:4+StrongLen])
		p = p[4+StrongLen:]
	}
	return sig, nil
}

// Delta computes instructions transforming the file described by sig into
// data. The output is a stream of literal and block-copy ops; runs of
// consecutive source blocks collapse into one copy.
func Delta(sig *Signature, data []byte) []byte {
	var index = make(map[uint32][]int, len(sig.Blocks))
	for i, b := range sig.Blocks {
		index[b.Rolling] = append(index[b.Rolling], i)
	}

	var out []byte
	var litStart = 0
	var flushLiteral = func(end int) {
		if end > litStart {
			out = append(out, opLiteral)
			out = binary.LittleEndian.AppendUint32(out, uint32(end-litStart))
			out = append(out, data[litStart:end]...)
		}
	}
	// Open copy run, if any: source block range [copyIdx, copyIdx+copyLen).
	var copyIdx, copyLen = -1, 0
	var flushCopy = func() {
		if copyLen > 0 {
			out = append(out, opCopy)
			out = binary.LittleEndian.AppendUint32(out, uint32(copyIdx))
			out = binary.LittleEndian.AppendUint32(out, uint32(copyLen))
			copyIdx, copyLen = -1, 0
		}
	}

	var i = 0
	var a, b uint32
	var fresh = true // rolling sums need a full recompute
	for i+BlockSize <= len(data) {
		if fresh {
			a, b = rollingSum(data[i : i+BlockSize])
			fresh = false
		}
		var matched = -1
		if cands := index[packSum(a, b)]; len(cands) != 0 {
			var strong = strongSum(data[i : i+BlockSize])
			for _, cand := range cands {
				if sig.Blocks[cand].Strong == strong {
					matched = cand
					break
				}
			}
		}
		if matched >= 0 {
			flushLiteral(i)
			if copyLen > 0 && matched == copyIdx+copyLen {
				copyLen++
			} else {
				flushCopy()
				copyIdx, copyLen = matched, 1
			}
			i += BlockSize
			litStart = i
			fresh = true
			continue
		}
		flushCopy()
		// Slide the window one byte.
		var drop = uint32(data[i])
		a = (a - drop) & 0xffff
		b = (b - uint32(BlockSize)*drop) & 0xffff
		if i+BlockSize < len(data) {
			a = (a + uint32(data[i+BlockSize])) & 0xffff
			b = (b + a) & 0xffff
		}
		i++
	}
	flushCopy()
	flushLiteral(len(data))
	return out
}

// Apply rebuilds the new file contents from base and a delta produced by
// Delta against base's signature.
func Apply(base, delta []byte) ([]byte, error) {
	var out []byte
	for len(delta) > 0 {
		var op = delta[0]
		delta = delta[1:]
		switch op {
		case opLiteral:
			if len(delta) < 4 {
				return nil, fmt.Errorf("literal op truncated")
			}
			var n = binary.LittleEndian.Uint32(delta)
			delta = delta[4:]
			if uint32(len(delta)) < n {
				return nil, fmt.Errorf("literal body truncated: want %d, have %d", n, len(delta))
			}
			out = append(out, delta[:n]...)
			delta = delta[n:]
		case opCopy:
			if len(delta) < 8 {
				return nil, fmt.Errorf("copy op truncated")
			}
			var idx = int(binary.LittleEndian.Uint32(delta))
			var count = int(binary.LittleEndian.Uint32(delta[4:]))
			delta = delta[8:]
			for j := idx; j < idx+count; j++ {
				var start = j * BlockSize
				var end = start + BlockSize
				if start >= len(base) {
					return nil, fmt.Errorf("copy op out of range: block %d of %d-byte base", j, len(base))
				}
				if end > len(base) {
					end = len(base)
				}
				out = append(out, base[start:end]...)
			}
		default:
			return nil, fmt.Errorf("unknown delta op 0x%02x", op)
		}
	}
	return out, nil
}

// SigsEqual reports whether two serialised signatures describe identical
// contents.
func SigsEqual(a, b []byte) bool { return bytes.Equal(a, b) }
