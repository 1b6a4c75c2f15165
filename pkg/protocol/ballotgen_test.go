package protocol

import (
	gocontext "context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3"
	"wbbaudit/pkg/config"
	"wbbaudit/pkg/context"
	"wbbaudit/pkg/crypto"
	"wbbaudit/pkg/ledger"
	"wbbaudit/pkg/serialization"
)

var raceSizes = []int{3, 2, 0}

type ballotFixture struct {
	t     *testing.T
	group kyber.Group
	pk    kyber.Point
	base  []*crypto.ECCiphertext
	dir   string
}

func newBallotFixture(t *testing.T, params *crypto.Params) *ballotFixture {
	group := params.Ballot
	stream := params.DeterministicStream("ballots")
	pk := group.Point().Mul(group.Scalar().Pick(stream), nil)
	f := &ballotFixture{t: t, group: group, pk: pk, dir: t.TempDir()}
	for i := 0; i < 5; i++ {
		f.base = append(f.base, crypto.Encrypt(group, group.Point().Pick(stream), pk, group.Scalar().Pick(stream)))
	}
	return f
}

func (f *ballotFixture) servers(seed int, values int) []ledger.ServerRandomness {
	var out []ledger.ServerRandomness
	for s := 0; s < 2; s++ {
		sr := ledger.ServerRandomness{PeerID: fmt.Sprintf("Mix%d", s+1)}
		for i := 0; i < values; i++ {
			sr.Values = append(sr.Values, fmt.Sprintf("%064x", seed*1000+s*100+i))
		}
		out = append(out, sr)
	}
	return out
}

// derive builds the committed ballot for the given randomness without the verifier.
func (f *ballotFixture) derive(servers []ledger.ServerRandomness) ([]*crypto.ECCiphertext, string, []byte) {
	slot := func(i int) []byte {
		h := sha256.New()
		for _, s := range servers {
			b, err := hex.DecodeString(s.Values[i])
			require.NoError(f.t, err)
			h.Write(b)
		}
		return h.Sum(nil)
	}
	var ciphers []*crypto.ECCiphertext
	var perm strings.Builder
	offset := 0
	for _, size := range raceSizes {
		type indexed struct {
			ct  *crypto.ECCiphertext
			idx int
		}
		race := make([]indexed, size)
		for i := 0; i < size; i++ {
			r := crypto.ScalarFromDigest(f.group, slot(offset+i))
			race[i] = indexed{f.base[offset+i].Reencrypt(f.pk, r), i}
		}
		sort.Slice(race, func(a, b int) bool { return race[a].ct.Compare(race[b].ct) < 0 })
		idx := make([]string, size)
		for i, e := range race {
			ciphers = append(ciphers, e.ct)
			idx[i] = fmt.Sprint(e.idx)
		}
		perm.WriteString(strings.Join(idx, ",") + ":")
		offset += size
	}
	return ciphers, perm.String(), slot(offset)
}

func (f *ballotFixture) hexCiphers(ciphers []*crypto.ECCiphertext) []serialization.HexCiphertext {
	hc := []serialization.HexCiphertext{}
	for _, c := range ciphers {
		gr, err := serialization.EncodePoint(c.C1)
		require.NoError(f.t, err)
		myr, err := serialization.EncodePoint(c.C2)
		require.NoError(f.t, err)
		hc = append(hc, serialization.HexCiphertext{GR: gr, MYR: myr})
	}
	return hc
}

func (f *ballotFixture) hexPoints(points []kyber.Point) []serialization.HexPoint {
	hp := []serialization.HexPoint{}
	for _, p := range points {
		e, err := serialization.EncodePoint(p)
		require.NoError(f.t, err)
		hp = append(hp, e)
	}
	return hp
}

func (f *ballotFixture) cipherLine(serial, commitment string, ciphers []*crypto.ECCiphertext) string {
	b, err := json.Marshal(map[string]any{"serialNo": serial, "permutation": commitment, "ciphers": f.hexCiphers(ciphers)})
	require.NoError(f.t, err)
	return string(b)
}

func (f *ballotFixture) writeJSON(name string, v any) string {
	b, err := json.Marshal(v)
	require.NoError(f.t, err)
	return f.writeFile(name, string(b))
}

func (f *ballotFixture) writeFile(name, content string) string {
	path := filepath.Join(f.dir, name)
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBallotGeneration(t *testing.T) {
	params := crypto.DefaultParams()
	f := newBallotFixture(t, params)
	slots := 5 + 1

	var cipherLines, randomLines []string
	add := func(serial string, revealed int, mutate func(ciphers []*crypto.ECCiphertext, perm *string)) string {
		servers := f.servers(len(cipherLines)+1, slots)
		ciphers, perm, witness := f.derive(servers)
		recovered := perm
		if mutate != nil {
			mutate(ciphers, &perm)
		}
		commitment := base64.StdEncoding.EncodeToString(crypto.HashCommit(witness, []byte(perm)))
		cipherLines = append(cipherLines, f.cipherLine(serial, commitment, ciphers))
		for i := range servers {
			servers[i].Values = servers[i].Values[:revealed]
		}
		b, err := json.Marshal(ledger.BallotRandomness{SerialNo: serial, Servers: servers})
		require.NoError(t, err)
		randomLines = append(randomLines, string(b))
		return recovered
	}

	perm1 := add("Dev:1", slots, nil)
	add("Dev:2", slots, func(c []*crypto.ECCiphertext, _ *string) { c[0], c[1] = c[1], c[0] })
	add("Dev:3", slots, func(_ []*crypto.ECCiphertext, p *string) { *p += "tampered" })
	perm4 := add("Dev:4", slots, nil)
	add("Dev:5", slots-1, nil)

	hp, err := serialization.EncodePoint(f.pk)
	require.NoError(t, err)
	var base []serialization.HexCiphertext
	for _, c := range f.base {
		gr, _ := serialization.EncodePoint(c.C1)
		myr, _ := serialization.EncodePoint(c.C2)
		base = append(base, serialization.HexCiphertext{GR: gr, MYR: myr})
	}
	wrongPerm4 := "0,1,2:0,1::"
	if perm4 == wrongPerm4 {
		wrongPerm4 = "2,1,0:1,0::"
	}

	cfg := config.Default()
	cfg.ResultsPath = ""
	cfg.Cores = 2
	cfg.Ballots = config.BallotConfig{
		PublicKeyFile:  f.writeJSON("pk.json", hp),
		BaseFile:       f.writeJSON("base.json", base),
		CiphersFile:    f.writeFile("ciphers.json", strings.Join(cipherLines, "\n")+"\n"),
		RandomnessFile: f.writeFile("randomness.json", strings.Join(randomLines, "\n")+"\n"),
		AuditFile: f.writeFile("audit.json",
			`{"type":"audit","commitTime":"1400000000000","serialNo":"Dev:1","permutation":"`+perm1+`"}`+"\n"+
				`{"type":"audit","commitTime":"1400000000000","serialNo":"Dev:4","permutation":"`+wrongPerm4+`"}`+"\n"),
		RaceSizes: raceSizes,
	}
	ctx := context.NewContext(cfg, params, nil)

	v, err := NewBallotGenVerifier(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Dev:1", "Dev:2", "Dev:3", "Dev:4", "Dev:5"}, v.Serials())

	report, err := v.VerifyAll(gocontext.Background())
	require.NoError(t, err)
	require.False(t, report.Verified())

	kinds := make(map[string]FailureKind)
	for _, o := range report.Outcomes {
		kinds[o.ID] = o.Kind
	}
	require.Equal(t, map[string]FailureKind{
		"Dev:1": FailureNone,
		"Dev:2": FailureMismatch,
		"Dev:3": FailureMismatch,
		"Dev:4": FailureMismatch,
		"Dev:5": FailureMalformed,
	}, kinds)
	require.Contains(t, report.Outcomes[1].Message, "cipher 0")

	t.Run("sample", func(t *testing.T) {
		cfg.Ballots.Sample = 2
		require.Equal(t, []string{"Dev:1", "Dev:2"}, v.Serials())
		cfg.Ballots.Sample = 0
	})

	t.Run("race sizes must cover the base ciphers", func(t *testing.T) {
		bad := *cfg
		bad.Ballots.RaceSizes = []int{3, 3}
		_, err := NewBallotGenVerifier(context.NewContext(&bad, params, nil))
		require.Error(t, err)
	})
}

func TestCombineRandomness(t *testing.T) {
	a := strings.Repeat("ab", 32)
	b := strings.Repeat("cd", 40)
	r := &ledger.BallotRandomness{SerialNo: "S", Servers: []ledger.ServerRandomness{
		{PeerID: "Mix1", Values: []string{a, a}},
		{PeerID: "Mix2", Values: []string{b, b}},
	}}
	got, err := CombineRandomness(r, 2)
	require.NoError(t, err)

	ab, _ := hex.DecodeString(a)
	bb, _ := hex.DecodeString(b)
	want := sha256.Sum256(append(ab, bb...))
	require.Equal(t, want[:], got[0])
	require.Equal(t, got[0], got[1])

	tests := []struct {
		name   string
		values []string
	}{
		{"too few values", []string{a}},
		{"short value", []string{a, "abcd"}},
		{"not hex", []string{a, strings.Repeat("zz", 32)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := &ledger.BallotRandomness{SerialNo: "S", Servers: []ledger.ServerRandomness{{PeerID: "Mix1", Values: tt.values}}}
			_, err := CombineRandomness(bad, 2)
			require.Error(t, err)
		})
	}
}
