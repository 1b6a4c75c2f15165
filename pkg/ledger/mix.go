package ledger

import (
	"encoding/json"
	"sort"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/crypto"
	"wbbaudit/pkg/io"
	"wbbaudit/pkg/messages"
	"wbbaudit/pkg/serialization"
)

// District is the number of candidates one district fields in each race.
type District struct {
	Name string `json:"-"`
	LA   int    `json:"la"`
	ATL  int    `json:"lc_atl"`
	BTL  int    `json:"lc_btl"`
}

// Size returns the district's candidate count for race.
func (d District) Size(race messages.RaceType) int {
	switch race {
	case messages.RaceLA:
		return d.LA
	case messages.RaceATL:
		return d.ATL
	default:
		return d.BTL
	}
}

// Candidates is the length of a fully reduced ballot of the district.
func (d District) Candidates() int {
	return d.LA + d.ATL + d.BTL
}

// LoadDistricts reads the district configuration, a JSON object keyed by district name.
func LoadDistricts(path string) (map[string]District, error) {
	data, err := io.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]District
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, xerrors.Errorf("ledger: decoding districts %s: %w", path, err)
	}
	for name, d := range out {
		if d.LA < 0 || d.ATL < 0 || d.BTL < 0 {
			return nil, xerrors.Errorf("ledger: district %s has a negative race size", name)
		}
		d.Name = name
		out[name] = d
	}
	return out, nil
}

// LoadPoints reads a JSON array of points, such as the plaintext candidate ids.
func LoadPoints(path string, group kyber.Group) ([]kyber.Point, error) {
	data, err := io.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []serialization.HexPoint
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, xerrors.Errorf("ledger: decoding points %s: %w", path, err)
	}
	d := serialization.NewPointDecoder(group)
	out := make([]kyber.Point, len(raw))
	for i, hp := range raw {
		out[i] = d.Point(hp)
		if err := d.Err(); err != nil {
			return nil, xerrors.Errorf("ledger: %s point %d: %w", path, i, err)
		}
	}
	return out, nil
}

// RaceKey identifies the mix batch of one race in one district.
type RaceKey struct {
	Race     messages.RaceType
	District string
}

func (k RaceKey) String() string {
	return k.Race.String() + "/" + k.District
}

// SortRaceKeys orders keys by district, then race.
func SortRaceKeys(keys []RaceKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].District != keys[j].District {
			return keys[i].District < keys[j].District
		}
		return keys[i].Race < keys[j].Race
	})
}

type mixInputJSON struct {
	Race     messages.RaceType               `json:"race"`
	District string                          `json:"district"`
	Rows     [][]serialization.HexCiphertext `json:"rows"`
}

// MixInput maps every race batch to the packed ciphertext rows fed to the mix.
type MixInput map[RaceKey][][]*crypto.ECCiphertext

// LoadMixInput reads the mix input file, a JSON array of race batches.
func LoadMixInput(path string, group kyber.Group) (MixInput, error) {
	data, err := io.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []mixInputJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, xerrors.Errorf("ledger: decoding mix input %s: %w", path, err)
	}
	out := make(MixInput, len(raw))
	for _, b := range raw {
		key := RaceKey{Race: b.Race, District: b.District}
		if _, dup := out[key]; dup {
			return nil, xerrors.Errorf("ledger: mix input %s lists %s twice", path, key)
		}
		rows := make([][]*crypto.ECCiphertext, len(b.Rows))
		for i, row := range b.Rows {
			if rows[i], err = decodeCiphertexts(group, row); err != nil {
				return nil, xerrors.Errorf("ledger: mix input %s row %d: %w", key, i, err)
			}
		}
		out[key] = rows
	}
	return out, nil
}

type mixOutputJSON struct {
	Race        messages.RaceType          `json:"race"`
	District    string                     `json:"district"`
	Preferences [][]string                 `json:"preferences"`
	Plaintexts  [][]serialization.HexPoint `json:"plaintexts"`
}

// MixBatch is the decrypted output of one race batch: the preferences of each
// ballot as printed in the preference file and the packed plaintexts the mix
// produced.
type MixBatch struct {
	Preferences [][]string
	Plaintexts  [][]kyber.Point
}

// MixOutput maps every race batch to its decrypted output.
type MixOutput map[RaceKey]*MixBatch

// LoadMixOutput reads the mix output file, a JSON array of race batches.
func LoadMixOutput(path string, group kyber.Group) (MixOutput, error) {
	data, err := io.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []mixOutputJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, xerrors.Errorf("ledger: decoding mix output %s: %w", path, err)
	}
	d := serialization.NewPointDecoder(group)
	out := make(MixOutput, len(raw))
	for _, b := range raw {
		key := RaceKey{Race: b.Race, District: b.District}
		if _, dup := out[key]; dup {
			return nil, xerrors.Errorf("ledger: mix output %s lists %s twice", path, key)
		}
		batch := &MixBatch{Preferences: b.Preferences, Plaintexts: make([][]kyber.Point, len(b.Plaintexts))}
		for i, row := range b.Plaintexts {
			batch.Plaintexts[i] = make([]kyber.Point, len(row))
			for j, hp := range row {
				batch.Plaintexts[i][j] = d.Point(hp)
			}
			if err := d.Err(); err != nil {
				return nil, xerrors.Errorf("ledger: mix output %s row %d: %w", key, i, err)
			}
		}
		out[key] = batch
	}
	return out, nil
}
