package crypto

import (
	"crypto/cipher"
	"strings"

	"github.com/BurntSushi/toml"
	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/suites"
	"go.dedis.ch/kyber/v3/util/random"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/log"
)

const (
	DefaultElGamalCurve = "P256"
	DefaultPairing      = "bn256"
)

// ParamsFile is the on-disk form of the curve parameter file.
type ParamsFile struct {
	ElGamalCurve string `toml:"elgamal_curve"`
	BallotCurve  string `toml:"ballot_curve"`
	Pairing      string `toml:"pairing"`
}

// Params is the immutable set of groups every verifier works over. It is built
// once at start-up and shared read-only between workers.
type Params struct {
	ElGamal suites.Suite  // curve of committed ciphertexts
	Ballot  suites.Suite  // curve used by ballot generation, may differ from ElGamal
	Pairing pairing.Suite // pairing used by the WBB threshold signatures

	pairingName string
}

// DefaultParams returns P-256 for both ElGamal curves and bn256 for signatures.
func DefaultParams() *Params {
	p, err := NewParams(ParamsFile{})
	if err != nil {
		panic(err)
	}
	return p
}

// LoadParams reads a TOML curve parameter file.
func LoadParams(path string) (*Params, error) {
	var pf ParamsFile
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		return nil, xerrors.Errorf("crypto: reading curve parameters %s: %w", path, err)
	}
	log.Debug("Loaded curve parameters from %s: %+v", path, pf)
	return NewParams(pf)
}

// NewParams resolves the named curves. Empty names fall back to the defaults.
func NewParams(pf ParamsFile) (*Params, error) {
	if pf.ElGamalCurve == "" {
		pf.ElGamalCurve = DefaultElGamalCurve
	}
	if pf.BallotCurve == "" {
		pf.BallotCurve = pf.ElGamalCurve
	}
	if pf.Pairing == "" {
		pf.Pairing = DefaultPairing
	}

	elgamal, err := suites.Find(pf.ElGamalCurve)
	if err != nil {
		return nil, xerrors.Errorf("crypto: unknown ElGamal curve %q: %w", pf.ElGamalCurve, err)
	}
	ballot, err := suites.Find(pf.BallotCurve)
	if err != nil {
		return nil, xerrors.Errorf("crypto: unknown ballot curve %q: %w", pf.BallotCurve, err)
	}

	var ps pairing.Suite
	switch strings.ToLower(pf.Pairing) {
	case "bn256":
		ps = bn256.NewSuite()
	default:
		return nil, xerrors.Errorf("crypto: unsupported pairing %q", pf.Pairing)
	}

	return &Params{
		ElGamal:     elgamal,
		Ballot:      ballot,
		Pairing:     ps,
		pairingName: strings.ToLower(pf.Pairing),
	}, nil
}

// String returns the curve names in use.
func (p *Params) String() string {
	return "Params{ElGamal:" + p.ElGamal.String() + " Ballot:" + p.Ballot.String() + " Pairing:" + p.pairingName + "}"
}

// DeterministicStream returns a randomness stream seeded from the ElGamal suite's XOF.
// Verification never needs randomness; fixtures and tests do.
func (p *Params) DeterministicStream(seed string) cipher.Stream {
	if seed == "" {
		return p.ElGamal.RandomStream()
	}
	return random.New(p.ElGamal.XOF([]byte(seed)))
}
