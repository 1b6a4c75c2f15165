package serialization

import (
	"crypto/sha1"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/suites"
	"go.dedis.ch/kyber/v3/util/random"
)

func TestPointDecoder(t *testing.T) {
	group := suites.MustFind("P256")
	stream := random.New(group.XOF([]byte("points")))

	t.Run("valid", func(t *testing.T) {
		p := group.Point().Pick(stream)
		hp, err := EncodePoint(p)
		require.NoError(t, err)

		d := NewPointDecoder(group)
		got := d.Point(hp)
		require.NoError(t, d.Err())
		require.True(t, got.Equal(p))
	})

	t.Run("0x prefix", func(t *testing.T) {
		hp, err := EncodePoint(group.Point().Base())
		require.NoError(t, err)
		hp.X = "0x" + hp.X

		d := NewPointDecoder(group)
		require.True(t, d.Point(hp).Equal(group.Point().Base()))
		require.NoError(t, d.Err())
	})

	tests := []struct {
		name string
		hp   HexPoint
	}{
		{"not hex", HexPoint{X: "xyz", Y: "01"}},
		{"off curve", HexPoint{X: "01", Y: "01"}},
		{"too long", HexPoint{X: "01ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", Y: "01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewPointDecoder(group)
			require.Nil(t, d.Point(tt.hp))
			require.Error(t, d.Err())

			// sticky
			hp, _ := EncodePoint(group.Point().Base())
			require.Nil(t, d.Point(hp))
		})
	}
}

func TestDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attachment.bin")
	require.NoError(t, os.WriteFile(path, []byte("file bytes"), 0o644))

	d := NewSHA1Digest()
	d.WriteString("content")
	d.WriteFile(path)
	sum, err := d.Sum()
	require.NoError(t, err)

	want := sha1.Sum([]byte("contentfile bytes"))
	require.Equal(t, want[:], sum)
	require.EqualValues(t, len("contentfile bytes"), d.Len())

	bad := NewSHA1Digest()
	bad.WriteFile(filepath.Join(dir, "missing"))
	bad.WriteString("ignored")
	_, err = bad.Sum()
	require.Error(t, err)
	require.Zero(t, bad.Len())
}

func TestDigestWriteKyber(t *testing.T) {
	group := suites.MustFind("P256")
	p := group.Point().Pick(random.New())
	q := group.Point().Base()

	d := NewDigest(sha256.New())
	d.WriteKyber(p, q)
	sum, err := d.Sum()
	require.NoError(t, err)

	pb, err := p.MarshalBinary()
	require.NoError(t, err)
	qb, err := q.MarshalBinary()
	require.NoError(t, err)
	want := sha256.Sum256(append(pb, qb...))
	require.Equal(t, want[:], sum)
	require.EqualValues(t, len(pb)+len(qb), d.Len())
}
