package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"
)

type thresholdFixture struct {
	suite   pairing.Suite
	key     *BLSPublicKey
	pubPoly *share.PubPoly
	shares  [][]byte // raw partial signatures, indexed by node id
	msg     []byte
}

func newThresholdFixture(t *testing.T, params *Params, n, threshold int, msg []byte) *thresholdFixture {
	t.Helper()
	suite := params.Pairing
	stream := params.DeterministicStream("threshold")

	secret := suite.G2().Scalar().Pick(stream)
	priPoly := share.NewPriPoly(suite.G2(), threshold, secret, stream)
	pubPoly := priPoly.Commit(suite.G2().Point().Base())

	f := &thresholdFixture{
		suite:   suite,
		key:     &BLSPublicKey{G: suite.G2().Point().Base(), X: pubPoly.Commit()},
		pubPoly: pubPoly,
		msg:     msg,
	}
	for _, s := range priPoly.Shares(n) {
		sig, err := tbls.Sign(suite, s, msg)
		require.NoError(t, err)
		// strip the two byte share index
		f.shares = append(f.shares, sig[2:])
	}
	return f
}

func TestBLSVerify(t *testing.T) {
	params := DefaultParams()
	suite := params.Pairing
	stream := params.DeterministicStream("bls")

	x := suite.G2().Scalar().Pick(stream)
	key := &BLSPublicKey{G: suite.G2().Point().Base(), X: suite.G2().Point().Mul(x, nil)}
	msg := []byte("round hash")

	HM, err := HashToG1(suite, msg)
	require.NoError(t, err)
	sig := suite.G1().Point().Mul(x, HM)

	require.True(t, BLSVerify(suite, msg, sig, key))
	require.False(t, BLSVerify(suite, []byte("other"), sig, key))
	require.False(t, BLSVerify(suite, msg, sig, nil))

	sigBytes, err := sig.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, bls.Verify(suite, key.X, msg, sigBytes), "must agree with kyber's verifier")

	decoded, err := DecodeSignatureBase64(suite, EncodeBase64(sig))
	require.NoError(t, err)
	require.True(t, decoded.Equal(sig))

	g, err := DecodeKeyElementBase64(suite, EncodeBase64(key.G))
	require.NoError(t, err)
	require.True(t, g.Equal(key.G))

	_, err = DecodeSignatureBase64(suite, "not base64!")
	require.Error(t, err)
	_, err = DecodeSignature(suite, []byte{1, 2, 3})
	require.Error(t, err)

	t.Run("CustomGenerator", func(t *testing.T) {
		g := suite.G2().Point().Pick(stream)
		custom := &BLSPublicKey{G: g, X: suite.G2().Point().Mul(x, g)}
		require.True(t, BLSVerify(suite, msg, sig, custom))
	})
}

func TestThresholdCombiner(t *testing.T) {
	params := DefaultParams()
	const n, threshold = 5, 3
	f := newThresholdFixture(t, params, n, threshold, []byte("commit"))

	subsets := [][]int{{0, 1, 2}, {0, 2, 4}, {1, 3, 4}, {2, 3, 4}, {0, 1, 2, 3, 4}, {4, 0, 3, 1}}
	for _, ids := range subsets {
		c, err := NewThresholdCombiner(f.suite, n, threshold)
		require.NoError(t, err)
		for _, id := range ids {
			require.NoError(t, c.AddShare(f.shares[id], id))
		}
		sig, err := c.Combine()
		require.NoError(t, err, "subset %v", ids)
		require.True(t, BLSVerify(f.suite, f.msg, sig, f.key), "subset %v", ids)
	}

	t.Run("MatchesKyberRecovery", func(t *testing.T) {
		ids := []int{1, 2, 4}
		c, err := NewThresholdCombiner(f.suite, n, threshold)
		require.NoError(t, err)
		var sigShares [][]byte
		for _, id := range ids {
			require.NoError(t, c.AddShare(f.shares[id], id))
			prefixed := append([]byte{0, byte(id)}, f.shares[id]...)
			sigShares = append(sigShares, prefixed)
		}
		combined, err := c.Combine()
		require.NoError(t, err)

		recovered, err := tbls.Recover(f.suite, f.pubPoly, f.msg, sigShares, threshold, n)
		require.NoError(t, err)
		ours, err := combined.MarshalBinary()
		require.NoError(t, err)
		require.Equal(t, recovered, ours)
	})

	t.Run("InsufficientShares", func(t *testing.T) {
		c, err := NewThresholdCombiner(f.suite, n, threshold)
		require.NoError(t, err)
		require.NoError(t, c.AddShare(f.shares[0], 0))
		require.NoError(t, c.AddShare(f.shares[3], 3))

		sig, err := c.Combine()
		require.ErrorIs(t, err, ErrInsufficientShares)
		require.Nil(t, sig)
	})

	t.Run("DuplicateShare", func(t *testing.T) {
		c, err := NewThresholdCombiner(f.suite, n, threshold)
		require.NoError(t, err)
		require.NoError(t, c.AddShare(f.shares[1], 1))
		require.ErrorIs(t, c.AddShare(f.shares[2], 1), ErrDuplicateShare)
		require.Equal(t, 1, c.Count())
	})

	t.Run("NodeOutOfRange", func(t *testing.T) {
		c, err := NewThresholdCombiner(f.suite, n, threshold)
		require.NoError(t, err)
		require.ErrorIs(t, c.AddShare(f.shares[0], n), ErrNodeOutOfRange)
		require.ErrorIs(t, c.AddShare(f.shares[0], -1), ErrNodeOutOfRange)
	})

	t.Run("ThresholdAboveNodes", func(t *testing.T) {
		_, err := NewThresholdCombiner(f.suite, 3, 4)
		require.Error(t, err)
	})

	t.Run("UndecodableShare", func(t *testing.T) {
		c, err := NewThresholdCombiner(f.suite, n, threshold)
		require.NoError(t, err)
		require.Error(t, c.AddShare([]byte("garbage"), 0))
		require.Equal(t, 0, c.Count())
	})

	t.Run("WeightsFromWrongDomain", func(t *testing.T) {
		ids := []int{0, 2, 4}
		full, err := LagrangeWeights(f.suite.G1(), []int{0, 1, 2, 3, 4})
		require.NoError(t, err)

		acc := f.suite.G1().Point().Null()
		for _, id := range ids {
			s, err := DecodeSignature(f.suite, f.shares[id])
			require.NoError(t, err)
			acc.Add(acc, f.suite.G1().Point().Mul(full[id], s))
		}
		require.False(t, BLSVerify(f.suite, f.msg, acc, f.key))
	})
}

func TestLagrangeWeights(t *testing.T) {
	params := DefaultParams()
	group := params.Pairing.G1()

	t.Run("InterpolatesConstantTerm", func(t *testing.T) {
		stream := params.DeterministicStream("poly")
		priPoly := share.NewPriPoly(group, 3, nil, stream)
		shares := priPoly.Shares(6)

		ids := []int{5, 1, 3}
		weights, err := LagrangeWeights(group, ids)
		require.NoError(t, err)

		sum := group.Scalar().Zero()
		for k, id := range ids {
			sum.Add(sum, group.Scalar().Mul(weights[k], shares[id].V))
		}
		require.True(t, sum.Equal(priPoly.Secret()))
	})

	t.Run("WeightsSumToOne", func(t *testing.T) {
		weights, err := LagrangeWeights(group, []int{0, 1, 2, 3})
		require.NoError(t, err)
		sum := group.Scalar().Zero()
		for _, w := range weights {
			sum.Add(sum, w)
		}
		require.True(t, sum.Equal(group.Scalar().One()))
	})

	t.Run("DuplicateIDs", func(t *testing.T) {
		_, err := LagrangeWeights(group, []int{1, 1})
		require.Error(t, err)
	})

	t.Run("GroupOrder", func(t *testing.T) {
		order, err := GroupOrder(group)
		require.NoError(t, err)
		var zero kyber.Scalar = group.Scalar().SetBytes(order.Bytes())
		require.True(t, zero.Equal(group.Scalar().Zero()))
	})
}
