package protocol

import (
	gocontext "context"
	"crypto/sha1"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/tbls"
	"wbbaudit/pkg/actors"
	"wbbaudit/pkg/config"
	"wbbaudit/pkg/context"
	"wbbaudit/pkg/crypto"
	"wbbaudit/pkg/ledger"
	"wbbaudit/pkg/ledger/ledgertest"
	"wbbaudit/pkg/messages"
)

const (
	roundID    = "1400000000000"
	commitTime = "1400000000000"
	attachment = "ballots.bin"
)

var roundMessage = `{"type":"ballotgencommit","commitTime":"1400000000000","submissionID":"sub1","digest":"ZGln","_digest":"ZGln","boothID":"Printer1","boothSig":"x","_fileName":"` + attachment + `","fileSize":11}`

type wbbFixture struct {
	t        *testing.T
	ctx      *context.OperationContext
	secret   kyber.Scalar
	priPoly  *share.PriPoly
	certs    *actors.Certificates
	attached []byte
}

func newWBBFixture(t *testing.T) *wbbFixture {
	t.Helper()
	params := crypto.DefaultParams()
	suite := params.Pairing
	stream := params.DeterministicStream("wbb")

	cfg := config.Default()
	cfg.ResultsPath = ""
	cfg.Cores = 2
	cfg.Threshold = 3
	cfg.RoundTimeout = time.Minute

	secret := suite.G2().Scalar().Pick(stream)
	priPoly := share.NewPriPoly(suite.G2(), 3, secret, stream)
	pubPoly := priPoly.Commit(suite.G2().Point().Base())
	g := suite.G2().Point().Base()

	wbb := &crypto.BLSPublicKey{G: g, X: pubPoly.Commit()}
	var peers []*actors.Peer
	for i := 0; i < 5; i++ {
		peers = append(peers, &actors.Peer{
			ID:         fmt.Sprintf("Peer%d", i+1),
			SequenceNo: i,
			Key:        wbb,
			PartialKey: &crypto.BLSPublicKey{G: g, X: pubPoly.Eval(i).V},
		})
	}
	doc, err := actors.Encode(wbb, peers)
	require.NoError(t, err)
	certs, err := actors.ParseCertificates(doc, suite)
	require.NoError(t, err)

	return &wbbFixture{
		t:        t,
		ctx:      context.NewContext(cfg, params, nil),
		secret:   secret,
		priPoly:  priPoly,
		certs:    certs,
		attached: []byte("ballot data"),
	}
}

// input recomputes the signed digest independently of the verifier.
func (f *wbbFixture) input(description string) []byte {
	m, err := messages.Parse([]byte(roundMessage))
	require.NoError(f.t, err)
	h := sha1.New()
	h.Write([]byte(m.SignableContent()))
	h.Write(f.attached)
	roundHash := h.Sum(nil)

	h = sha1.New()
	h.Write([]byte(FinalCommitTag + commitTime))
	h.Write(roundHash)
	h.Write([]byte(description))
	return h.Sum(nil)
}

func (f *wbbFixture) jointSig(msg []byte) string {
	suite := f.ctx.Params.Pairing
	HM, err := crypto.HashToG1(suite, msg)
	require.NoError(f.t, err)
	return crypto.EncodeBase64(suite.G1().Point().Mul(f.secret, HM))
}

func (f *wbbFixture) shares(msg []byte, nodes ...int) []ledger.SignatureShare {
	suite := f.ctx.Params.Pairing
	all := f.priPoly.Shares(5)
	var out []ledger.SignatureShare
	for _, n := range nodes {
		sig, err := tbls.Sign(suite, all[n], msg)
		require.NoError(f.t, err)
		p, err := crypto.DecodeSignature(suite, sig[2:])
		require.NoError(f.t, err)
		out = append(out, ledger.SignatureShare{Peer: fmt.Sprintf("Peer%d", n+1), Sig: crypto.EncodeBase64(p)})
	}
	return out
}

func (f *wbbFixture) write(dir, id string, attached []byte, sig ledger.SignatureFile) *ledger.Bundle {
	b, err := ledgertest.Write(dir, ledgertest.Bundle{
		ID:          id,
		Messages:    []string{roundMessage},
		Attachments: map[string][]byte{attachment: attached},
		Signature:   sig,
	})
	require.NoError(f.t, err)
	return b
}

func TestVerifyRound(t *testing.T) {
	f := newWBBFixture(t)
	v := NewCommitmentVerifier(f.ctx, f.certs)
	msg := f.input("")

	t.Run("valid round", func(t *testing.T) {
		b := f.write(t.TempDir(), roundID, f.attached, ledger.SignatureFile{JointSig: f.jointSig(msg), CommitTime: commitTime})
		o := v.VerifyRound(gocontext.Background(), b)
		require.True(t, o.Verified, o.String())
		require.Equal(t, FailureNone, o.Kind)
	})

	t.Run("flipped attachment byte", func(t *testing.T) {
		tampered := append([]byte{}, f.attached...)
		tampered[0] ^= 0x01
		b := f.write(t.TempDir(), roundID, tampered, ledger.SignatureFile{JointSig: f.jointSig(msg), CommitTime: commitTime})
		o := v.VerifyRound(gocontext.Background(), b)
		require.False(t, o.Verified)
		require.Equal(t, FailureMismatch, o.Kind)
		require.Equal(t, roundID, o.ID)
		require.Contains(t, o.String(), roundID)
		require.Equal(t, f.jointSig(msg), o.Expected)
		require.Contains(t, o.Elements, FinalCommitTag)
		require.True(t, strings.HasPrefix(o.Elements[len(o.Elements)-1], attachment+" blake3:"))
	})

	t.Run("description is signed", func(t *testing.T) {
		withDesc := f.input("final")
		b := f.write(t.TempDir(), roundID, f.attached, ledger.SignatureFile{JointSig: f.jointSig(withDesc), CommitTime: commitTime, Description: "final"})
		require.True(t, v.VerifyRound(gocontext.Background(), b).Verified)

		b = f.write(t.TempDir(), roundID, f.attached, ledger.SignatureFile{JointSig: f.jointSig(withDesc), CommitTime: commitTime})
		require.Equal(t, FailureMismatch, v.VerifyRound(gocontext.Background(), b).Kind)
	})

	t.Run("commit time beyond signed prefix", func(t *testing.T) {
		b := f.write(t.TempDir(), roundID, f.attached, ledger.SignatureFile{JointSig: f.jointSig(msg), CommitTime: commitTime + "123"})
		o := v.VerifyRound(gocontext.Background(), b)
		require.True(t, o.Verified, o.String())
	})

	t.Run("undecodable signature", func(t *testing.T) {
		b := f.write(t.TempDir(), roundID, f.attached, ledger.SignatureFile{JointSig: "AAAA", CommitTime: commitTime})
		require.Equal(t, FailureMalformed, v.VerifyRound(gocontext.Background(), b).Kind)
	})

	t.Run("attachment missing from archive", func(t *testing.T) {
		b, err := ledgertest.Write(t.TempDir(), ledgertest.Bundle{
			ID:        roundID,
			Messages:  []string{roundMessage},
			Signature: ledger.SignatureFile{JointSig: f.jointSig(msg), CommitTime: commitTime},
		})
		require.NoError(t, err)
		require.Equal(t, FailureIO, v.VerifyRound(gocontext.Background(), b).Kind)
	})

	t.Run("incomplete bundle", func(t *testing.T) {
		b := &ledger.Bundle{ID: roundID, MessagesPath: filepath.Join(t.TempDir(), roundID+".json")}
		require.Equal(t, FailureMalformed, v.VerifyRound(gocontext.Background(), b).Kind)
	})
}

func TestVerifyRoundShares(t *testing.T) {
	f := newWBBFixture(t)
	v := NewCommitmentVerifier(f.ctx, f.certs)
	msg := f.input("")
	joint := f.jointSig(msg)

	tests := []struct {
		name   string
		shares []ledger.SignatureShare
		kind   FailureKind
	}{
		{"threshold shares", f.shares(msg, 0, 2, 4), FailureNone},
		{"all shares", f.shares(msg, 0, 1, 2, 3, 4), FailureNone},
		{"below threshold", f.shares(msg, 1, 3), FailureInsufficient},
		{"share over another message", append(f.shares(msg, 0, 1), f.shares([]byte("other"), 2)...), FailureMismatch},
		{"duplicate peer", append(f.shares(msg, 0, 1), f.shares(msg, 1)...), FailureMalformed},
		{"unknown peer", []ledger.SignatureShare{{Peer: "Peer9", Sig: joint}}, FailureMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := f.write(t.TempDir(), roundID, f.attached, ledger.SignatureFile{JointSig: joint, CommitTime: commitTime, Shares: tt.shares})
			o := v.VerifyRound(gocontext.Background(), b)
			require.Equal(t, tt.kind, o.Kind, o.String())
		})
	}
}

func TestVerifyAll(t *testing.T) {
	f := newWBBFixture(t)
	v := NewCommitmentVerifier(f.ctx, f.certs)
	msg := f.input("")
	dir := t.TempDir()

	f.write(dir, "1400000000000", f.attached, ledger.SignatureFile{JointSig: f.jointSig(msg), CommitTime: commitTime})
	f.write(dir, "1400000000001", f.attached, ledger.SignatureFile{JointSig: f.jointSig([]byte("forged")), CommitTime: commitTime})
	f.write(dir, "1400000000002", f.attached, ledger.SignatureFile{JointSig: f.jointSig(msg), CommitTime: commitTime})

	l, err := ledger.Open(dir)
	require.NoError(t, err)
	report, err := v.VerifyAll(gocontext.Background(), l)
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 3)
	require.False(t, report.Verified())
	failures := report.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, "1400000000001", failures[0].ID)
	require.True(t, report.Outcomes[0].Verified)
	require.True(t, report.Outcomes[2].Verified)
	require.Len(t, report.Durations(), 3)
}

func TestSignatureInput(t *testing.T) {
	roundHash := []byte{1, 2, 3}
	got, elements, err := SignatureInput(commitTime, roundHash, "")
	require.NoError(t, err)
	want := sha1.Sum(append([]byte("Commit"+commitTime), roundHash...))
	require.Equal(t, want[:], got)
	require.Equal(t, []string{"Commit", commitTime, "AQID"}, elements)

	long, elements, err := SignatureInput(commitTime+"123", roundHash, "")
	require.NoError(t, err)
	require.Equal(t, got, long)
	require.Equal(t, commitTime, elements[1])

	withDesc, elements, err := SignatureInput(commitTime, roundHash, "desc")
	require.NoError(t, err)
	require.NotEqual(t, got, withDesc)
	require.Len(t, elements, 4)
}

func TestClassify(t *testing.T) {
	require.Equal(t, FailureNone, Classify(nil))
	require.Equal(t, FailureTimeout, Classify(gocontext.DeadlineExceeded))
	require.Equal(t, FailureMismatch, Classify(&MismatchError{ID: "x"}))
	require.Equal(t, FailureMismatch, Classify(&crypto.CommitmentMismatchError{}))
	require.Equal(t, FailureInsufficient, Classify(crypto.ErrInsufficientShares))
	require.Equal(t, FailureMalformed, Classify(crypto.ErrNotPermutation))
	require.False(t, (&Report{}).Verified())
}
