package crypto

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3"
)

// baseCiphertexts encrypts n distinct candidate points in index order.
func baseCiphertexts(params *Params, pk kyber.Point, n int, seed string) []*ECCiphertext {
	group := params.ElGamal
	stream := params.DeterministicStream(seed)
	out := make([]*ECCiphertext, n)
	for i := range out {
		out[i] = Encrypt(group, group.Point().Pick(stream), pk, group.Scalar().Pick(stream))
	}
	return out
}

func TestPermutationRecovery(t *testing.T) {
	params := DefaultParams()
	group := params.ElGamal
	stream := params.DeterministicStream("keys")
	sk := group.Scalar().Pick(stream)
	pk := group.Point().Mul(sk, nil)

	t.Run("InducedPermutationRoundTrips", func(t *testing.T) {
		base := baseCiphertexts(params, pk, 3, "base")
		target := Permutation{2, 0, 1}

		var found bool
		for attempt := 0; attempt < 500 && !found; attempt++ {
			rs := params.DeterministicStream(fmt.Sprintf("attempt-%d", attempt))
			randomness := []kyber.Scalar{group.Scalar().Pick(rs), group.Scalar().Pick(rs), group.Scalar().Pick(rs)}

			indexed, err := ReencryptIndexed(base, pk, randomness)
			require.NoError(t, err)
			if !RecoverPermutation(indexed).Equal(target) {
				continue
			}
			found = true

			// Recompute independently and check the published claim.
			again, err := ReencryptIndexed(base, pk, randomness)
			require.NoError(t, err)
			recovered := RecoverPermutation(again)
			ok, err := CheckPermutation(recovered, "2,0,1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "2,0,1:", recovered.String())

			for i := 1; i < len(again); i++ {
				require.Negative(t, again[i-1].Compare(again[i].ECCiphertext))
			}
			for i, ct := range again {
				m, err := ct.Decrypt(sk)
				require.NoError(t, err)
				orig, err := base[recovered[i]].Decrypt(sk)
				require.NoError(t, err)
				require.True(t, m.Equal(orig), "sorted position %d decrypts to the wrong candidate", i)
			}
		}
		require.True(t, found, "no randomness induced the target permutation")
	})

	t.Run("WrongClaimIsMismatch", func(t *testing.T) {
		ok, err := CheckPermutation(Permutation{2, 0, 1}, "0,2,1:")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("MalformedClaims", func(t *testing.T) {
		tests := []struct {
			name  string
			claim string
		}{
			{"repeated index", "0,0,1"},
			{"out of range", "0,1,3"},
			{"negative", "-1,0,1"},
			{"not a number", "a,b,c"},
			{"wrong length", "0,1"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := CheckPermutation(Permutation{2, 0, 1}, tt.claim)
				require.ErrorIs(t, err, ErrNotPermutation)
			})
		}
	})

	t.Run("MismatchedRandomnessCount", func(t *testing.T) {
		base := baseCiphertexts(params, pk, 3, "base")
		_, err := ReencryptIndexed(base, pk, []kyber.Scalar{group.Scalar().One()})
		require.Error(t, err)
	})
}

func TestParseRaces(t *testing.T) {
	races, err := ParseRaces("2,0,1:1,0::")
	require.NoError(t, err)
	require.Len(t, races, 3)
	require.Equal(t, Permutation{2, 0, 1}, races[0])
	require.Equal(t, Permutation{1, 0}, races[1])
	require.Empty(t, races[2])
	require.Equal(t, "2,0,1:1,0::", FormatRaces(races))

	_, err = ParseRaces("2,0,1")
	require.ErrorIs(t, err, ErrNotPermutation)
	_, err = ParseRaces("2,0,2:")
	require.ErrorIs(t, err, ErrNotPermutation)
}
