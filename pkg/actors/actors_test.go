package actors

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"wbbaudit/pkg/crypto"
)

func TestCertificates(t *testing.T) {
	params := crypto.DefaultParams()
	suite := params.Pairing
	stream := params.DeterministicStream("certs")
	g := suite.G2().Point().Base()
	key := func() *crypto.BLSPublicKey {
		return &crypto.BLSPublicKey{G: g, X: suite.G2().Point().Mul(suite.G2().Scalar().Pick(stream), nil)}
	}

	wbb := key()
	peers := []*Peer{
		{ID: "Peer2", SequenceNo: 1, Key: key(), PartialKey: key()},
		{ID: "Peer1", SequenceNo: 0, Key: key()},
		{ID: "Peer5", SequenceNo: 4, Key: key()},
	}
	data, err := Encode(wbb, peers)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "certs.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	certs, err := LoadCertificates(path, suite)
	require.NoError(t, err)

	require.True(t, certs.WBB.Key.X.Equal(wbb.X))
	require.True(t, certs.WBB.Key.G.Equal(g))
	require.Equal(t, 5, certs.Nodes())

	seq, err := certs.SequenceNumber("Peer2")
	require.NoError(t, err)
	require.Equal(t, 1, seq)
	_, err = certs.SequenceNumber("Peer9")
	require.Error(t, err)

	p, ok := certs.Peer("Peer2")
	require.True(t, ok)
	require.True(t, p.PartialKey.X.Equal(peers[0].PartialKey.X))

	ordered := certs.Peers()
	require.Equal(t, []string{"Peer1", "Peer2", "Peer5"}, []string{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}

func TestParseCertificatesErrors(t *testing.T) {
	suite := crypto.DefaultParams().Pairing
	g := crypto.EncodeBase64(suite.G2().Point().Base())
	entry := `{"pubKeyEntry":{"publicKey":"` + g + `","g":"` + g + `"}}`

	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `[`},
		{"no WBB", `{"jksPath":"x.jks"}`},
		{"missing pubKeyEntry", `{"WBB":{}}`},
		{"bad key", `{"WBB":{"pubKeyEntry":{"publicKey":"AAAA","g":"` + g + `"}}}`},
		{"peer without sequence", `{"WBB":` + entry + `,"Peer1_SigningSK2":` + entry + `}`},
		{"duplicate sequence", `{"WBB":` + entry +
			`,"Peer1_SigningSK2":{"pubKeyEntry":{"publicKey":"` + g + `","g":"` + g + `","sequenceNo":0}}` +
			`,"Peer2_SigningSK2":{"pubKeyEntry":{"publicKey":"` + g + `","g":"` + g + `","sequenceNo":0}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCertificates([]byte(tt.doc), suite)
			require.Error(t, err)
		})
	}

	certs, err := ParseCertificates([]byte(`{"jksPath":"x","WBB":`+entry+`}`), suite)
	require.NoError(t, err)
	require.Empty(t, certs.Peers())
}
