package protocol

import (
	gocontext "context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/concurrency"
	"wbbaudit/pkg/context"
	"wbbaudit/pkg/crypto"
	"wbbaudit/pkg/io"
	"wbbaudit/pkg/ledger"
	"wbbaudit/pkg/log"
	"wbbaudit/pkg/messages"
	"wbbaudit/pkg/metrics"
)

// MinRandomnessHexLength is the shortest accepted randomness value: 256 bits in hex.
const MinRandomnessHexLength = 64

// BallotGenVerifier re-derives generated ballots from the randomness the mix
// servers revealed for audited serial numbers.
type BallotGenVerifier struct {
	ctx        *context.OperationContext
	group      kyber.Group
	pk         kyber.Point
	base       []*crypto.ECCiphertext
	raceSizes  []int
	ciphers    *ledger.CiphersFile
	randomness *ledger.RandomnessFile
	audits     map[string]*messages.AuditMessage
}

// NewBallotGenVerifier loads the inputs named in the [ballots] configuration.
func NewBallotGenVerifier(ctx *context.OperationContext) (*BallotGenVerifier, error) {
	cfg := ctx.Config.Ballots
	group := ctx.Params.Ballot
	v := &BallotGenVerifier{ctx: ctx, group: group, raceSizes: cfg.RaceSizes}

	err := record(ctx, "Ballots_LoadInputs", metrics.MDiskRead, func() error {
		var err error
		if v.pk, err = ledger.LoadPublicKey(cfg.PublicKeyFile, group); err != nil {
			return err
		}
		if v.base, err = ledger.LoadBaseCiphers(cfg.BaseFile, group); err != nil {
			return err
		}
		if v.ciphers, err = ledger.OpenCiphers(cfg.CiphersFile, group); err != nil {
			return err
		}
		if v.randomness, err = ledger.OpenRandomness(cfg.RandomnessFile); err != nil {
			return err
		}
		if cfg.AuditFile != "" {
			v.audits, err = loadAudits(ctx, cfg.AuditFile)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if total := v.candidates(); total != len(v.base) {
		return nil, xerrors.Errorf("protocol: race sizes cover %d candidates but %d base ciphers were published", total, len(v.base))
	}
	return v, nil
}

// loadAudits keeps the audit messages of the audit file by serial number.
func loadAudits(ctx *context.OperationContext, path string) (map[string]*messages.AuditMessage, error) {
	parsed, err := parseMessageLines(ctx, path)
	if err != nil {
		return nil, err
	}
	audits := make(map[string]*messages.AuditMessage)
	for _, m := range parsed {
		if a, ok := m.(*messages.AuditMessage); ok {
			audits[a.SerialNo] = a
		}
	}
	log.Debug("Loaded %d audit messages", len(audits))
	return audits, nil
}

// parseMessageLines parses a file of one message per line in parallel.
func parseMessageLines(ctx *context.OperationContext, path string) ([]messages.Message, error) {
	lines, err := io.ReadLines(path)
	if err != nil {
		return nil, err
	}
	numbered := make([]int, len(lines))
	for i := range numbered {
		numbered[i] = i
	}
	return concurrency.Map(ctx, numbered, func(i int) (messages.Message, error) {
		m, err := messages.Parse(lines[i])
		if err != nil {
			return nil, xerrors.Errorf("protocol: %s line %d: %w", path, i+1, err)
		}
		return m, nil
	})
}

func (v *BallotGenVerifier) candidates() int {
	n := 0
	for _, s := range v.raceSizes {
		n += s
	}
	return n
}

// Serials returns the serial numbers with revealed randomness, limited to the configured sample.
func (v *BallotGenVerifier) Serials() []string {
	serials := append([]string{}, v.randomness.Keys()...)
	sort.Strings(serials)
	if n := v.ctx.Config.Ballots.Sample; n > 0 && n < len(serials) {
		serials = serials[:n]
	}
	return serials
}

// VerifyAll verifies every sampled serial number.
func (v *BallotGenVerifier) VerifyAll(parent gocontext.Context) (*Report, error) {
	serials := v.Serials()
	report := &Report{Name: ReportBallots, Outcomes: make([]Outcome, len(serials))}
	log.Info("Verifying generation of %d ballots", len(serials))

	err := record(v.ctx, "Ballots_VerifyGeneration", metrics.MLogic, func() error {
		return concurrency.Bounded(parent, serials, v.ctx.Config.Cores, v.ctx.Config.RoundTimeout,
			func(ctx gocontext.Context, serial string) error { return v.VerifyBallot(serial) },
			func(i int, serial string, err error, elapsed time.Duration) {
				o := NewOutcome(serial, err, elapsed)
				report.Outcomes[i] = o
				if !o.Verified {
					log.Error("Ballot %s", o)
				}
			})
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// CombineRandomness folds the values every server revealed into count SHA-256
// digests: slot i hashes the i-th value of each server in order.
func CombineRandomness(r *ledger.BallotRandomness, count int) ([][]byte, error) {
	out := make([][]byte, count)
	for i := 0; i < count; i++ {
		h := sha256.New()
		for _, s := range r.Servers {
			if len(s.Values) < count {
				return nil, xerrors.Errorf("protocol: ballot %s: server %s revealed %d randomness values, expected %d",
					r.SerialNo, s.PeerID, len(s.Values), count)
			}
			v := s.Values[i]
			if len(v) < MinRandomnessHexLength {
				return nil, xerrors.Errorf("protocol: ballot %s: server %s value %d is shorter than %d hex characters",
					r.SerialNo, s.PeerID, i, MinRandomnessHexLength)
			}
			b, err := hex.DecodeString(v)
			if err != nil {
				return nil, xerrors.Errorf("protocol: ballot %s: server %s value %d: %w", r.SerialNo, s.PeerID, i, err)
			}
			h.Write(b)
		}
		out[i] = h.Sum(nil)
	}
	return out, nil
}

// GeneratedBallot is a ballot re-derived from the base ciphers.
type GeneratedBallot struct {
	Ciphers []*crypto.IndexedCiphertext
	Races   []crypto.Permutation
	Witness []byte
}

// Generate re-encrypts the base candidate ids race by race with the combined
// randomness and sorts each race.
func (v *BallotGenVerifier) Generate(combined [][]byte) (*GeneratedBallot, error) {
	total := v.candidates()
	if len(combined) != total+1 {
		return nil, xerrors.Errorf("protocol: %d randomness slots for %d candidates", len(combined), total)
	}
	g := &GeneratedBallot{Witness: combined[total]}
	offset := 0
	for _, size := range v.raceSizes {
		rs := make([]kyber.Scalar, size)
		for i := range rs {
			rs[i] = crypto.ScalarFromDigest(v.group, combined[offset+i])
		}
		race, err := crypto.ReencryptIndexed(v.base[offset:offset+size], v.pk, rs)
		if err != nil {
			return nil, err
		}
		g.Races = append(g.Races, crypto.RecoverPermutation(race))
		g.Ciphers = append(g.Ciphers, race...)
		offset += size
	}
	return g, nil
}

// VerifyBallot checks one audited ballot: the committed ciphers must equal the
// re-derived ones, the permutation commitment must open to the recovered
// permutation and a published audit permutation must agree with it.
func (v *BallotGenVerifier) VerifyBallot(serial string) error {
	committed, err := v.ciphers.Get(serial)
	if err != nil {
		return xerrors.Errorf("protocol: ballot %s: %w", serial, err)
	}
	revealed, err := v.randomness.Get(serial)
	if err != nil {
		return xerrors.Errorf("protocol: ballot %s: %w", serial, err)
	}
	combined, err := CombineRandomness(revealed, v.candidates()+1)
	if err != nil {
		return err
	}
	g, err := v.Generate(combined)
	if err != nil {
		return err
	}

	if len(committed.Ciphers) != len(g.Ciphers) {
		return xerrors.Errorf("protocol: ballot %s has %d committed ciphers, expected %d", serial, len(committed.Ciphers), len(g.Ciphers))
	}
	for i, c := range committed.Ciphers {
		if !c.Equal(g.Ciphers[i].ECCiphertext) {
			return &MismatchError{ID: serial, What: fmt.Sprintf("cipher %d", i),
				Expected: c.String(), Computed: g.Ciphers[i].String()}
		}
	}

	perm := crypto.FormatRaces(g.Races)
	commitment, err := base64.StdEncoding.DecodeString(committed.Permutation)
	if err != nil {
		return xerrors.Errorf("protocol: ballot %s: permutation commitment is not base64: %w", serial, err)
	}
	if err := crypto.VerifyHashCommitment(commitment, g.Witness, []byte(perm)); err != nil {
		return xerrors.Errorf("protocol: ballot %s: %w", serial, err)
	}

	if audit, ok := v.audits[serial]; ok {
		if err := checkAuditPermutation(serial, g.Races, audit.Permutation); err != nil {
			return err
		}
	}
	log.Debug("Ballot %s re-derived with permutation %s", serial, perm)
	return nil
}

func checkAuditPermutation(serial string, recovered []crypto.Permutation, claim string) error {
	races, err := crypto.ParseRaces(claim)
	if err != nil {
		return xerrors.Errorf("protocol: ballot %s audit: %w", serial, err)
	}
	if len(races) != len(recovered) {
		return xerrors.Errorf("protocol: ballot %s audit: %w: %d races, expected %d", serial, crypto.ErrNotPermutation, len(races), len(recovered))
	}
	for i, r := range recovered {
		ok, err := crypto.CheckPermutation(r, races[i].String())
		if err != nil {
			return xerrors.Errorf("protocol: ballot %s audit race %d: %w", serial, i, err)
		}
		if !ok {
			return &MismatchError{ID: serial, What: "audited permutation", Expected: claim, Computed: crypto.FormatRaces(recovered)}
		}
	}
	return nil
}
