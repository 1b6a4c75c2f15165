package messages

import (
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// ErrBadRaces is returned for reductions or race preferences that do not
// describe exactly the three races of a ballot.
var ErrBadRaces = xerrors.New("messages: malformed races")

// BlankPreference marks a candidate the voter left unnumbered.
const BlankPreference = " "

// RaceType is one of the three races printed on a ballot.
type RaceType int

const (
	RaceLA RaceType = iota
	RaceATL
	RaceBTL
)

// RaceTypes lists the races in ballot order.
func RaceTypes() []RaceType {
	return []RaceType{RaceLA, RaceATL, RaceBTL}
}

func (r RaceType) String() string {
	switch r {
	case RaceLA:
		return "LA"
	case RaceATL:
		return "LC_ATL"
	case RaceBTL:
		return "LC_BTL"
	default:
		return "unknown"
	}
}

// ParseRaceType accepts the race names in any case, with or without the LC prefix.
func ParseRaceType(s string) (RaceType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LA":
		return RaceLA, nil
	case "LC_ATL", "LCATL", "ATL":
		return RaceATL, nil
	case "LC_BTL", "LCBTL", "BTL":
		return RaceBTL, nil
	}
	return 0, xerrors.Errorf("%w: unknown race %q", ErrBadRaces, s)
}

func (r RaceType) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RaceType) UnmarshalText(b []byte) error {
	t, err := ParseRaceType(string(b))
	if err != nil {
		return err
	}
	*r = t
	return nil
}

// Reduction removes one unused candidate cipher from a print-on-demand ballot.
// Index addresses the committed cipher within its race, CandidateIndex the base
// cipher it re-encrypts and Randomness is the base64 re-encryption factor.
type Reduction struct {
	Index          int    `json:"index"`
	CandidateIndex int    `json:"candidateIndex"`
	Randomness     string `json:"randomness"`
}

// Reductions decodes the ballot reductions of the message, one list per race.
func (m *PODMessage) Reductions() ([3][]Reduction, error) {
	var out [3][]Reduction
	var races [][]Reduction
	if err := json.Unmarshal(m.BallotReductions, &races); err != nil {
		return out, xerrors.Errorf("%w: pod %s ballot reductions: %v", ErrBadRaces, m.SerialNo, err)
	}
	if len(races) != len(out) {
		return out, xerrors.Errorf("%w: pod %s has reductions for %d races", ErrBadRaces, m.SerialNo, len(races))
	}
	copy(out[:], races)
	return out, nil
}

// RacePreferences is the voter's numbering of the candidates of one race, in
// ballot order.
type RacePreferences struct {
	Race        RaceType `json:"id"`
	Preferences []string `json:"preferences"`
}

// Used reports whether any candidate of the race was numbered.
func (r RacePreferences) Used() bool {
	for _, p := range r.Preferences {
		if !IsBlank(p) {
			return true
		}
	}
	return false
}

// Numbered returns, for every numbered candidate, its preference keyed by position.
func (r RacePreferences) Numbered() (map[int]int, error) {
	out := make(map[int]int)
	seen := make(map[int]bool)
	for i, p := range r.Preferences {
		if IsBlank(p) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 {
			return nil, xerrors.Errorf("%w: %s preference %q", ErrBadRaces, r.Race, p)
		}
		if seen[n] {
			return nil, xerrors.Errorf("%w: %s preference %d given twice", ErrBadRaces, r.Race, n)
		}
		seen[n] = true
		out[i] = n
	}
	return out, nil
}

// IsBlank reports whether a preference leaves the candidate unnumbered.
func IsBlank(p string) bool {
	return p == BlankPreference || p == ""
}

// BallotPreferences holds the three races of a vote.
type BallotPreferences [3]RacePreferences

// ATL reports whether the Legislative Council was voted above the line.
func (b BallotPreferences) ATL() bool {
	return b[RaceATL].Used()
}

// Ballot decodes the races of the vote. They must be given in the order LA,
// LC_ATL, LC_BTL and at most one of the two council races may be used.
func (m *VoteMessage) Ballot() (BallotPreferences, error) {
	var out BallotPreferences
	var races []RacePreferences
	if len(m.Races) == 0 {
		return out, xerrors.Errorf("%w: vote %s carries no races", ErrBadRaces, m.SerialNo)
	}
	if err := json.Unmarshal(m.Races, &races); err != nil {
		return out, xerrors.Errorf("%w: vote %s: %v", ErrBadRaces, m.SerialNo, err)
	}
	if len(races) != len(out) {
		return out, xerrors.Errorf("%w: vote %s has %d races", ErrBadRaces, m.SerialNo, len(races))
	}
	for i, r := range races {
		if r.Race != RaceType(i) {
			return out, xerrors.Errorf("%w: vote %s race %d is %s, expected %s", ErrBadRaces, m.SerialNo, i, r.Race, RaceType(i))
		}
		out[i] = r
	}
	if out[RaceATL].Used() && out[RaceBTL].Used() {
		return out, xerrors.Errorf("%w: vote %s is both above and below the line", ErrBadRaces, m.SerialNo)
	}
	return out, nil
}
