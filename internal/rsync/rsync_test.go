package rsync

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// deterministic pseudo-random contents; tests must not depend on run order.
func randomBytes(seed int64, n int) []byte {
	var rng = rand.New(rand.NewSource(seed))
	var out = make([]byte, n)
	rng.Read(out)
	return out
}

func TestSignatureRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, BlockSize - 1, BlockSize, BlockSize + 1, 10*BlockSize + 137} {
		var data = randomBytes(42, size)
		var sig = Sum(data)

		var parsed, err = ParseSignature(sig.Marshal())
		require.NoError(t, err)
		require.Equal(t, sig.Blocks, parsed.Blocks)
	}
}

func TestIdenticalContentsHaveEqualSignatures(t *testing.T) {
	var data = randomBytes(7, 3*BlockSize+55)
	require.True(t, SigsEqual(Sum(data).Marshal(), Sum(data).Marshal()))

	var other = randomBytes(8, 3*BlockSize+55)
	require.False(t, SigsEqual(Sum(data).Marshal(), Sum(other).Marshal()))
}

func TestDeltaConvergence(t *testing.T) {
	var cases = []struct {
		name string
		base []byte
		next []byte
	}{
		{"identical", randomBytes(1, 8*BlockSize), randomBytes(1, 8*BlockSize)},
		{"append", randomBytes(2, 4*BlockSize), append(randomBytes(2, 4*BlockSize), []byte("tail")...)},
		{"prepend", randomBytes(3, 4*BlockSize), append([]byte("head"), randomBytes(3, 4*BlockSize)...)},
		{"truncate", randomBytes(4, 4*BlockSize), randomBytes(4, 4*BlockSize)[:2*BlockSize+17]},
		{"disjoint", randomBytes(5, 2*BlockSize), randomBytes(6, 3*BlockSize)},
		{"empty-to-data", nil, randomBytes(9, BlockSize + 3)},
		{"data-to-empty", randomBytes(10, BlockSize), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var sig = Sum(tc.base)
			var delta = Delta(sig, tc.next)
			var got, err = Apply(tc.base, delta)
			require.NoError(t, err)
			require.True(t, bytes.Equal(tc.next, got),
				"patched contents must equal the new file")
		})
	}
}

func TestDeltaIsSmallForLocalisedChange(t *testing.T) {
	// 10 MiB with a single modified 4 KiB block: the delta must be a tiny
	// fraction of the file.
	var base = randomBytes(11, 10<<20)
	var next = append([]byte(nil), base...)
	copy(next[5*BlockSize:], randomBytes(12, BlockSize))

	var delta = Delta(Sum(base), next)
	require.Less(t, len(delta), len(next)/100)

	var got, err = Apply(base, delta)
	require.NoError(t, err)
	require.True(t, bytes.Equal(next, got))
}

func TestDeltaOfIdenticalFileIsAllCopies(t *testing.T) {
	var data = randomBytes(13, 6 * BlockSize)
	var delta = Delta(Sum(data), data)

	// One collapsed copy op: tag + index + count.
	require.Equal(t, 9, len(delta))
}

func TestApplyRejectsCorruptDelta(t *testing.T) {
	var _, err = Apply([]byte("base"), []byte{0x7f})
	require.Error(t, err)

	_, err = Apply([]byte("base"), []byte{opCopy, 0xff, 0xff, 0xff, 0xff, 0x01, 0x00, 0x00, 0x00})
	require.Error(t, err)
}

func TestParseSignatureRejectsGarbage(t *testing.T) {
	var _, err = ParseSignature([]byte{1, 2, 3})
	require.Error(t, err)

	// Valid header, truncated body.
	var sig = Sum(randomBytes(14, 2*BlockSize)).Marshal()
	_, err = ParseSignature(sig[:len(sig)-1])
	require.Error(t, err)
}
