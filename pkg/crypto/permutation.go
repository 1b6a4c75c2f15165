package crypto

import (
	"sort"
	"strconv"
	"strings"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

const (
	// PreferenceSeparator separates indices inside one race.
	PreferenceSeparator = ","
	// RaceSeparator terminates each race of a permutation string.
	RaceSeparator = ":"
)

// ErrNotPermutation is returned for index sequences that are not a permutation of 0..n-1.
var ErrNotPermutation = xerrors.New("crypto: not a permutation")

// IndexedCiphertext is a ciphertext tagged with its position before shuffling.
type IndexedCiphertext struct {
	*ECCiphertext
	Index int
}

// Permutation lists original indices in shuffled order.
type Permutation []int

// ReencryptIndexed re-encrypts base[i] with randomness[i] and tags each result with i.
func ReencryptIndexed(base []*ECCiphertext, Pk kyber.Point, randomness []kyber.Scalar) ([]*IndexedCiphertext, error) {
	if len(base) != len(randomness) {
		return nil, xerrors.Errorf("crypto: %d ciphertexts but %d randomness values", len(base), len(randomness))
	}
	out := make([]*IndexedCiphertext, len(base))
	for i, ct := range base {
		out[i] = &IndexedCiphertext{ECCiphertext: ct.Reencrypt(Pk, randomness[i]), Index: i}
	}
	return out, nil
}

// SortIndexed sorts in place by the canonical ciphertext order.
func SortIndexed(cs []*IndexedCiphertext) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Compare(cs[j].ECCiphertext) < 0
	})
}

// RecoverPermutation sorts cs and reads the original indices off in sorted order.
func RecoverPermutation(cs []*IndexedCiphertext) Permutation {
	SortIndexed(cs)
	p := make(Permutation, len(cs))
	for i, c := range cs {
		p[i] = c.Index
	}
	return p
}

// Validate checks that p holds each index 0..len(p)-1 exactly once.
func (p Permutation) Validate() error {
	seen := make([]bool, len(p))
	for pos, idx := range p {
		if idx < 0 || idx >= len(p) {
			return xerrors.Errorf("%w: index %d at position %d out of range [0,%d)", ErrNotPermutation, idx, pos, len(p))
		}
		if seen[idx] {
			return xerrors.Errorf("%w: index %d repeated", ErrNotPermutation, idx)
		}
		seen[idx] = true
	}
	return nil
}

// Equal reports whether both permutations are identical.
func (p Permutation) Equal(o Permutation) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// String renders the race as "2,0,1:".
func (p Permutation) String() string {
	var b strings.Builder
	for i, idx := range p {
		if i > 0 {
			b.WriteString(PreferenceSeparator)
		}
		b.WriteString(strconv.Itoa(idx))
	}
	b.WriteString(RaceSeparator)
	return b.String()
}

// FormatRaces concatenates the per-race strings.
func FormatRaces(races []Permutation) string {
	var b strings.Builder
	for _, p := range races {
		b.WriteString(p.String())
	}
	return b.String()
}

// ParsePermutation parses a single race, with or without the trailing race separator.
func ParsePermutation(s string) (Permutation, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), RaceSeparator)
	if s == "" {
		return Permutation{}, nil
	}
	fields := strings.Split(s, PreferenceSeparator)
	p := make(Permutation, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, xerrors.Errorf("%w: %q is not an index", ErrNotPermutation, f)
		}
		p[i] = v
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseRaces splits "2,0,1:1,0:" into its races and validates each one.
func ParseRaces(s string) ([]Permutation, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, RaceSeparator) {
		return nil, xerrors.Errorf("%w: %q is not terminated by %q", ErrNotPermutation, s, RaceSeparator)
	}
	parts := strings.Split(strings.TrimSuffix(s, RaceSeparator), RaceSeparator)
	races := make([]Permutation, len(parts))
	for i, part := range parts {
		p, err := ParsePermutation(part)
		if err != nil {
			return nil, xerrors.Errorf("race %d: %w", i, err)
		}
		races[i] = p
	}
	return races, nil
}

// CheckPermutation compares a recovered permutation against a published claim.
// A claim that does not parse as a permutation of the same size is malformed.
func CheckPermutation(recovered Permutation, claim string) (bool, error) {
	p, err := ParsePermutation(claim)
	if err != nil {
		return false, err
	}
	if len(p) != len(recovered) {
		return false, xerrors.Errorf("%w: claim has %d indices, expected %d", ErrNotPermutation, len(p), len(recovered))
	}
	return p.Equal(recovered), nil
}
