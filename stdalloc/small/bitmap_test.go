package small

import (
	"math/bits"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_LowestClear_MatchesTrailingZeros(t *testing.T) {
	for b := 0; b < 64; b++ {
		w := fullWord &^ (1 << uint(b))
		require.Equal(t, uint(b), lowestClear(w), "single clear bit %d", b)

		// Everything above b clear as well.
		w = (uint64(1) << uint(b)) - 1
		require.Equal(t, uint(b), lowestClear(w), "low %d bits set", b)
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		w := rng.Uint64() | rng.Uint64()
		if w == fullWord {
			continue
		}
		require.Equal(t, uint(bits.TrailingZeros64(^w)), lowestClear(w), "word %#x", w)
	}
}

func Test_Padding(t *testing.T) {
	require.Equal(t, uint64(0), padding(64))
	require.Equal(t, uint64(0), padding(128))
	fw := uint64(fullWord)
	require.Equal(t, fw<<1, padding(1))
	require.Equal(t, fw<<63, padding(63))
	require.Equal(t, 1, wordsFor(1))
	require.Equal(t, 1, wordsFor(64))
	require.Equal(t, 2, wordsFor(65))
}
