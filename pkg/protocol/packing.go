package protocol

import (
	gocontext "context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/concurrency"
	"wbbaudit/pkg/context"
	"wbbaudit/pkg/crypto"
	"wbbaudit/pkg/ledger"
	"wbbaudit/pkg/log"
	"wbbaudit/pkg/messages"
	"wbbaudit/pkg/metrics"
	"wbbaudit/pkg/serialization"
)

// VotingProcess is a print-on-demand ballot and the vote cast on it.
type VotingProcess struct {
	SerialNo string
	POD      *messages.PODMessage
	Vote     *messages.VoteMessage
}

// CollectVotes pairs pod and vote messages by serial number. Cancelled serials
// are dropped. Serials that were voted without a pod message are returned as
// orphans. Both lists are sorted by serial number.
func CollectVotes(msgs []messages.Message) (processes []*VotingProcess, orphans []string) {
	pods := make(map[string]*messages.PODMessage)
	votes := make(map[string]*messages.VoteMessage)
	cancelled := make(map[string]bool)
	for _, m := range msgs {
		switch m := m.(type) {
		case *messages.PODMessage:
			pods[m.SerialNo] = m
		case *messages.VoteMessage:
			votes[m.SerialNo] = m
		case *messages.CancelMessage:
			cancelled[m.SerialNo] = true
		}
	}
	for serial, vote := range votes {
		if cancelled[serial] {
			log.Debug("Skipping cancelled ballot %s", serial)
			continue
		}
		pod, ok := pods[serial]
		if !ok {
			orphans = append(orphans, serial)
			continue
		}
		processes = append(processes, &VotingProcess{SerialNo: serial, POD: pod, Vote: vote})
	}
	sort.Slice(processes, func(i, j int) bool { return processes[i].SerialNo < processes[j].SerialNo })
	sort.Strings(orphans)
	return processes, orphans
}

// PackedBallot holds, for each race a vote used, the ciphers the vote should
// have entered the mix with.
type PackedBallot struct {
	SerialNo string
	District string
	Races    map[messages.RaceType][]*crypto.ECCiphertext
}

// PackingVerifier checks that cast votes were reduced, reordered and packed
// into the mix input, and that the mix output decodes to the printed preferences.
type PackingVerifier struct {
	ctx        *context.OperationContext
	group      kyber.Group
	pk         kyber.Point
	base       []*crypto.ECCiphertext
	ids        []kyber.Point
	padding    kyber.Point
	encPadding *crypto.ECCiphertext
	generic    [3]int
	packing    [3]int // 0 for races mixed directly
	districts  map[string]ledger.District
	ciphers    *ledger.CiphersFile
	mixInput   ledger.MixInput
	mixOutput  ledger.MixOutput
	processes  []*VotingProcess
	orphans    []string
}

// NewPackingVerifier loads the inputs named in the [ballots] and [packing]
// configuration. Votes are read from the packing messages file, or from the
// rounds of the commits folder when none is configured.
func NewPackingVerifier(ctx *context.OperationContext) (*PackingVerifier, error) {
	cfg := ctx.Config.Packing
	bcfg := ctx.Config.Ballots
	group := ctx.Params.Ballot
	v := &PackingVerifier{ctx: ctx, group: group}

	if len(bcfg.RaceSizes) != len(v.generic) {
		return nil, xerrors.Errorf("protocol: vote packing needs %d race sizes, got %d", len(v.generic), len(bcfg.RaceSizes))
	}
	copy(v.generic[:], bcfg.RaceSizes)
	if err := v.setPacking(cfg.LAPacking, cfg.BTLPacking, cfg.UseDirect); err != nil {
		return nil, err
	}

	var msgs []messages.Message
	err := record(ctx, "Packing_LoadInputs", metrics.MDiskRead, func() error {
		var err error
		if v.pk, err = ledger.LoadPublicKey(bcfg.PublicKeyFile, group); err != nil {
			return err
		}
		if v.base, err = ledger.LoadBaseCiphers(bcfg.BaseFile, group); err != nil {
			return err
		}
		if v.ciphers, err = ledger.OpenCiphers(bcfg.CiphersFile, group); err != nil {
			return err
		}
		if v.ids, err = ledger.LoadPoints(cfg.PlaintextsFile, group); err != nil {
			return err
		}
		if v.padding, err = ledger.LoadPoint(cfg.PaddingFile, group); err != nil {
			return err
		}
		if v.districts, err = ledger.LoadDistricts(cfg.DistrictsFile); err != nil {
			return err
		}
		if v.mixInput, err = ledger.LoadMixInput(cfg.MixInputFile, group); err != nil {
			return err
		}
		if v.mixOutput, err = ledger.LoadMixOutput(cfg.MixOutputFile, group); err != nil {
			return err
		}
		msgs, err = loadVoteMessages(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	total := v.candidates()
	if len(v.base) != total || len(v.ids) != total {
		return nil, xerrors.Errorf("protocol: race sizes cover %d candidates but %d base ciphers and %d plaintext ids were published",
			total, len(v.base), len(v.ids))
	}
	for name, d := range v.districts {
		for _, race := range messages.RaceTypes() {
			if d.Size(race) > v.generic[race] {
				return nil, xerrors.Errorf("protocol: district %s fields %d %s candidates, more than the generic ballot's %d",
					name, d.Size(race), race, v.generic[race])
			}
		}
	}
	v.encPadding = crypto.Encrypt(group, v.padding, v.pk, group.Scalar().One())
	v.processes, v.orphans = CollectVotes(msgs)
	log.Info("Collected %d voting processes from %d messages", len(v.processes), len(msgs))
	return v, nil
}

func (v *PackingVerifier) setPacking(la, btl int, direct []string) error {
	v.packing[messages.RaceLA] = la
	v.packing[messages.RaceBTL] = btl
	for _, name := range direct {
		race, err := messages.ParseRaceType(name)
		if err != nil {
			return xerrors.Errorf("protocol: use_direct: %w", err)
		}
		v.packing[race] = 0
	}
	if v.packing[messages.RaceLA] < 0 || v.packing[messages.RaceBTL] < 0 {
		return xerrors.Errorf("protocol: negative packing size")
	}
	for _, race := range []messages.RaceType{messages.RaceLA, messages.RaceBTL} {
		if v.packing[race] == 0 && !containsRace(direct, race) {
			return xerrors.Errorf("protocol: %s is neither packed nor mixed directly", race)
		}
	}
	return nil
}

func containsRace(names []string, race messages.RaceType) bool {
	for _, n := range names {
		if r, err := messages.ParseRaceType(n); err == nil && r == race {
			return true
		}
	}
	return false
}

func loadVoteMessages(ctx *context.OperationContext) ([]messages.Message, error) {
	if path := ctx.Config.Packing.MessagesFile; path != "" {
		return parseMessageLines(ctx, path)
	}
	if ctx.Config.CommitsDir == "" {
		return nil, xerrors.New("protocol: vote packing needs a messages file or a commits folder")
	}
	l, err := ledger.Open(ctx.Config.CommitsDir)
	if err != nil {
		return nil, err
	}
	var out []messages.Message
	for _, b := range l.Bundles() {
		if b.MessagesPath == "" {
			continue
		}
		msgs, err := b.Messages()
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func (v *PackingVerifier) candidates() int {
	return v.generic[0] + v.generic[1] + v.generic[2]
}

// offset is the position of race's first cipher on the generic ballot.
func (v *PackingVerifier) offset(race messages.RaceType) int {
	n := 0
	for r := messages.RaceLA; r < race; r++ {
		n += v.generic[r]
	}
	return n
}

// Processes returns the voting processes in serial order.
func (v *PackingVerifier) Processes() []*VotingProcess {
	return v.processes
}

// Reduce removes the unused candidates from the committed ballot of p. Every
// removed cipher must be the re-encryption of a candidate the district does not
// field, under the randomness disclosed in the pod message.
func (v *PackingVerifier) Reduce(p *VotingProcess) ([]*crypto.ECCiphertext, ledger.District, error) {
	district, ok := v.districts[p.POD.District]
	if !ok {
		return nil, district, xerrors.Errorf("protocol: ballot %s: unknown district %q", p.SerialNo, p.POD.District)
	}
	if p.Vote.District != p.POD.District {
		return nil, district, xerrors.Errorf("protocol: ballot %s printed for %s but voted in %s", p.SerialNo, p.POD.District, p.Vote.District)
	}
	committed, err := v.ciphers.Get(p.SerialNo)
	if err != nil {
		return nil, district, xerrors.Errorf("protocol: ballot %s: %w", p.SerialNo, err)
	}
	if len(committed.Ciphers) != v.candidates() {
		return nil, district, xerrors.Errorf("protocol: ballot %s has %d committed ciphers, expected %d",
			p.SerialNo, len(committed.Ciphers), v.candidates())
	}
	reductions, err := p.POD.Reductions()
	if err != nil {
		return nil, district, err
	}

	removed := make(map[int]bool)
	for _, race := range messages.RaceTypes() {
		size, generic, offset := district.Size(race), v.generic[race], v.offset(race)
		if want := generic - size; len(reductions[race]) != want {
			return nil, district, xerrors.Errorf("protocol: ballot %s: %d %s reductions, expected %d",
				p.SerialNo, len(reductions[race]), race, want)
		}
		for i, r := range reductions[race] {
			if r.CandidateIndex < size || r.CandidateIndex >= generic {
				return nil, district, xerrors.Errorf("protocol: ballot %s: %s reduction %d removes candidate %d, which district %s fields",
					p.SerialNo, race, i, r.CandidateIndex, district.Name)
			}
			if r.Index < 0 || r.Index >= generic || removed[offset+r.Index] {
				return nil, district, xerrors.Errorf("protocol: ballot %s: %s reduction %d has invalid index %d", p.SerialNo, race, i, r.Index)
			}
			rnd, err := base64.StdEncoding.DecodeString(r.Randomness)
			if err != nil {
				return nil, district, xerrors.Errorf("protocol: ballot %s: %s reduction %d randomness: %w", p.SerialNo, race, i, err)
			}
			at := offset + r.Index
			removed[at] = true
			s := crypto.ScalarFromBig(v.group, new(big.Int).SetBytes(rnd))
			computed := v.base[offset+r.CandidateIndex].Reencrypt(v.pk, s)
			if !computed.Equal(committed.Ciphers[at]) {
				return nil, district, &MismatchError{ID: p.SerialNo, What: fmt.Sprintf("%s reduction %d", race, i),
					Expected: committed.Ciphers[at].String(), Computed: computed.String()}
			}
		}
	}

	reduced := make([]*crypto.ECCiphertext, 0, district.Candidates())
	for i, c := range committed.Ciphers {
		if !removed[i] {
			reduced = append(reduced, c)
		}
	}
	return reduced, district, nil
}

// PackBallot reduces the ballot of p, reorders each used race by preference
// and packs it the way the mix input was built.
func (v *PackingVerifier) PackBallot(p *VotingProcess) (*PackedBallot, error) {
	prefs, err := p.Vote.Ballot()
	if err != nil {
		return nil, err
	}
	reduced, district, err := v.Reduce(p)
	if err != nil {
		return nil, err
	}

	out := &PackedBallot{SerialNo: p.SerialNo, District: district.Name, Races: make(map[messages.RaceType][]*crypto.ECCiphertext)}
	start := 0
	for _, race := range messages.RaceTypes() {
		section := reduced[start : start+district.Size(race)]
		start += district.Size(race)
		if !prefs[race].Used() {
			continue
		}
		ordered, err := byPreference(prefs[race], section)
		if err != nil {
			return nil, xerrors.Errorf("protocol: ballot %s: %w", p.SerialNo, err)
		}
		if out.Races[race], err = v.packCiphers(race, ordered); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// byPreference returns the items of a race section whose candidates were
// numbered, ordered by preference.
func byPreference[T any](prefs messages.RacePreferences, section []T) ([]T, error) {
	if len(prefs.Preferences) > len(section) {
		return nil, xerrors.Errorf("%w: %d %s preferences for %d candidates",
			messages.ErrBadRaces, len(prefs.Preferences), prefs.Race, len(section))
	}
	numbered, err := prefs.Numbered()
	if err != nil {
		return nil, err
	}
	positions := make([]int, 0, len(numbered))
	for pos := range numbered {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return numbered[positions[i]] < numbered[positions[j]] })
	out := make([]T, len(positions))
	for i, pos := range positions {
		out[i] = section[pos]
	}
	return out, nil
}

// packCiphers folds runs of consecutive ciphers into one, weighting the k-th
// cipher of a run by k. An above the line vote keeps only its first preference.
func (v *PackingVerifier) packCiphers(race messages.RaceType, ordered []*crypto.ECCiphertext) ([]*crypto.ECCiphertext, error) {
	if race == messages.RaceATL {
		return ordered[:1], nil
	}
	size := v.packing[race]
	if size == 0 {
		return ordered, nil
	}
	var out []*crypto.ECCiphertext
	var acc *crypto.ECCiphertext
	pos := 0
	for _, c := range ordered {
		pos++
		weighted := c.Mul(v.group.Scalar().SetInt64(int64(pos)))
		if acc == nil {
			acc = weighted
		} else {
			var err error
			if acc, err = acc.Add(weighted); err != nil {
				return nil, err
			}
		}
		if pos == size {
			out = append(out, acc)
			acc, pos = nil, 0
		}
	}
	if acc != nil {
		out = append(out, acc)
	}
	return out, nil
}

// packPoints packs plaintext candidate ids exactly as packCiphers packs ciphers.
func (v *PackingVerifier) packPoints(race messages.RaceType, ordered []kyber.Point) []kyber.Point {
	if race == messages.RaceATL {
		return ordered[:1]
	}
	size := v.packing[race]
	if size == 0 {
		return ordered
	}
	var out []kyber.Point
	var acc kyber.Point
	pos := 0
	for _, p := range ordered {
		pos++
		weighted := v.group.Point().Mul(v.group.Scalar().SetInt64(int64(pos)), p)
		if acc == nil {
			acc = weighted
		} else {
			acc = v.group.Point().Add(acc, weighted)
		}
		if pos == size {
			out = append(out, acc)
			acc, pos = nil, 0
		}
	}
	if acc != nil {
		out = append(out, acc)
	}
	return out
}

// pad extends every row to the longest one. Above the line rows are never padded.
func pad[T any](race messages.RaceType, rows [][]T, padding T) {
	if race == messages.RaceATL {
		return
	}
	longest := 0
	for _, r := range rows {
		if len(r) > longest {
			longest = len(r)
		}
	}
	for i, r := range rows {
		for len(r) < longest {
			r = append(r, padding)
		}
		rows[i] = r
	}
}

// cipherFingerprint hashes the encoding of a row of ciphers.
func cipherFingerprint(row []*crypto.ECCiphertext) (string, error) {
	d := serialization.NewDigest(sha256.New())
	for _, c := range row {
		d.WriteKyber(c.C1, c.C2)
	}
	sum, err := d.Sum()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// pointFingerprint hashes the encoding of a row of points.
func pointFingerprint(row []kyber.Point) (string, error) {
	d := serialization.NewDigest(sha256.New())
	for _, p := range row {
		d.WriteKyber(p)
	}
	sum, err := d.Sum()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// rowIndex counts the rows of a batch by fingerprint.
type rowIndex map[string]int

// take consumes one row with fingerprint fp, reporting whether one was left.
func (ix rowIndex) take(fp string) bool {
	if ix[fp] == 0 {
		return false
	}
	ix[fp]--
	return true
}

// VerifyAll packs every cast ballot, matches the packed ballots against the
// mix input and checks every decrypted mix output batch. Each ballot yields
// one outcome, as does each mix output batch.
func (v *PackingVerifier) VerifyAll(parent gocontext.Context) (*Report, error) {
	report := &Report{Name: ReportPacking, Outcomes: make([]Outcome, len(v.processes))}
	log.Info("Verifying packing of %d votes", len(v.processes))

	var mu sync.Mutex
	packed := make(map[int]*PackedBallot, len(v.processes))
	numbered := make([]int, len(v.processes))
	for i := range numbered {
		numbered[i] = i
	}
	err := record(v.ctx, "Packing_PackBallots", metrics.MLogic, func() error {
		return concurrency.Bounded(parent, numbered, v.ctx.Config.Cores, v.ctx.Config.RoundTimeout,
			func(ctx gocontext.Context, i int) error {
				b, err := v.PackBallot(v.processes[i])
				if err != nil {
					return err
				}
				mu.Lock()
				packed[i] = b
				mu.Unlock()
				return nil
			},
			func(i int, _ int, err error, elapsed time.Duration) {
				report.Outcomes[i] = NewOutcome(v.processes[i].SerialNo, err, elapsed)
			})
	})
	if err != nil {
		return nil, err
	}
	for _, serial := range v.orphans {
		report.Outcomes = append(report.Outcomes,
			NewOutcome(serial, xerrors.Errorf("protocol: ballot %s was voted without a pod message", serial), 0))
	}

	err = record(v.ctx, "Packing_MatchMixInput", metrics.MLogic, func() error {
		mu.Lock()
		defer mu.Unlock()
		return v.matchMixInput(report, packed)
	})
	if err != nil {
		return nil, err
	}

	err = record(v.ctx, "Packing_VerifyMixOutput", metrics.MLogic, func() error {
		keys := make([]ledger.RaceKey, 0, len(v.mixOutput))
		for k := range v.mixOutput {
			keys = append(keys, k)
		}
		ledger.SortRaceKeys(keys)
		for _, k := range keys {
			start := time.Now()
			err := v.VerifyMixBatch(k, v.mixOutput[k])
			report.Outcomes = append(report.Outcomes, NewOutcome("mix "+k.String(), err, time.Since(start)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, o := range report.Failures() {
		log.Error("Packing %s", o)
	}
	return report, nil
}

// matchMixInput groups the packed ballots by race and district, pads each
// group and requires every ballot to match a distinct row of the mix input.
// Ballots that fail have their outcome replaced.
func (v *PackingVerifier) matchMixInput(report *Report, packed map[int]*PackedBallot) error {
	groups := make(map[ledger.RaceKey][]int)
	for i, b := range packed {
		if !report.Outcomes[i].Verified {
			continue
		}
		for race := range b.Races {
			k := ledger.RaceKey{Race: race, District: b.District}
			groups[k] = append(groups[k], i)
		}
	}
	keys := make([]ledger.RaceKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	ledger.SortRaceKeys(keys)

	fail := func(i int, err error) {
		report.Outcomes[i] = NewOutcome(v.processes[i].SerialNo, err, report.Outcomes[i].Elapsed)
	}
	for _, k := range keys {
		members := groups[k]
		sort.Ints(members)
		rows, ok := v.mixInput[k]
		if !ok {
			for _, i := range members {
				fail(i, xerrors.Errorf("protocol: ballot %s: no mix input for %s", v.processes[i].SerialNo, k))
			}
			continue
		}

		index := make(rowIndex, len(rows))
		for _, row := range rows {
			fp, err := cipherFingerprint(row)
			if err != nil {
				return err
			}
			index[fp]++
		}

		lists := make([][]*crypto.ECCiphertext, len(members))
		for j, i := range members {
			lists[j] = packed[i].Races[k.Race]
		}
		pad(k.Race, lists, v.encPadding)
		for j, i := range members {
			fp, err := cipherFingerprint(lists[j])
			if err != nil {
				return err
			}
			if !index.take(fp) {
				fail(i, &MismatchError{ID: v.processes[i].SerialNo, What: k.String() + " mix input",
					Expected: "a row of the mix input", Computed: fp})
			}
		}
		log.Debug("Matched %d ballots against %d mix input rows for %s", len(members), len(rows), k)
	}
	return nil
}

// districtIDs slices the plaintext candidate ids of the races a district fields.
func (v *PackingVerifier) districtIDs(d ledger.District, race messages.RaceType) []kyber.Point {
	start := v.offset(race)
	return v.ids[start : start+d.Size(race)]
}

// VerifyMixBatch packs the printed preferences of one mix output batch and
// requires every decrypted row to match a distinct packed row. The batch must
// also have the shape of its mix input.
func (v *PackingVerifier) VerifyMixBatch(k ledger.RaceKey, batch *ledger.MixBatch) error {
	id := "mix " + k.String()
	district, ok := v.districts[k.District]
	if !ok {
		return xerrors.Errorf("protocol: %s: unknown district", id)
	}
	input, ok := v.mixInput[k]
	if !ok {
		return xerrors.Errorf("protocol: %s: no mix input", id)
	}

	ids := v.districtIDs(district, k.Race)
	rows := make([][]kyber.Point, 0, len(batch.Preferences))
	for i, p := range batch.Preferences {
		prefs := messages.RacePreferences{Race: k.Race, Preferences: p}
		if !prefs.Used() {
			return xerrors.Errorf("protocol: %s: preference row %d is blank", id, i)
		}
		ordered, err := byPreference(prefs, ids)
		if err != nil {
			return xerrors.Errorf("protocol: %s row %d: %w", id, i, err)
		}
		rows = append(rows, v.packPoints(k.Race, ordered))
	}
	pad(k.Race, rows, v.padding)

	index := make(rowIndex, len(rows))
	for _, row := range rows {
		fp, err := pointFingerprint(row)
		if err != nil {
			return err
		}
		index[fp]++
	}
	for i, row := range batch.Plaintexts {
		fp, err := pointFingerprint(row)
		if err != nil {
			return err
		}
		if !index.take(fp) {
			return &MismatchError{ID: id, What: fmt.Sprintf("plaintext row %d", i),
				Expected: "a packed preference row", Computed: fp}
		}
	}

	if len(input) != len(batch.Plaintexts) {
		return &MismatchError{ID: id, What: "row count",
			Expected: fmt.Sprint(len(input)), Computed: fmt.Sprint(len(batch.Plaintexts))}
	}
	for i := range input {
		if len(input[i]) != len(batch.Plaintexts[i]) {
			return &MismatchError{ID: id, What: fmt.Sprintf("row %d packings", i),
				Expected: fmt.Sprint(len(input[i])), Computed: fmt.Sprint(len(batch.Plaintexts[i]))}
		}
	}
	return nil
}
