package ledger

import (
	"encoding/json"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/crypto"
	"wbbaudit/pkg/io"
	"wbbaudit/pkg/serialization"
	"wbbaudit/pkg/store"
)

// SerialNoField keys the ciphers and randomness files.
const SerialNoField = "serialNo"

// CommittedBallot is one generated ballot as committed by the printer: its
// serial number, the base64 commitment to its permutation and the sorted
// re-encrypted candidate ids.
type CommittedBallot struct {
	SerialNo    string
	Permutation string
	Ciphers     []*crypto.ECCiphertext
}

type committedBallotJSON struct {
	SerialNo    string                        `json:"serialNo"`
	Permutation string                        `json:"permutation"`
	Ciphers     []serialization.HexCiphertext `json:"ciphers"`
}

func (b *CommittedBallot) String() string {
	return fmt.Sprintf("CommittedBallot{%s, %d ciphers}", b.SerialNo, len(b.Ciphers))
}

// ParseCommittedBallot decodes one line of a ciphers file.
func ParseCommittedBallot(group kyber.Group, line []byte) (*CommittedBallot, error) {
	var raw committedBallotJSON
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, xerrors.Errorf("ledger: decoding committed ballot: %w", err)
	}
	if raw.SerialNo == "" || raw.Permutation == "" {
		return nil, xerrors.Errorf("ledger: committed ballot lacks serialNo or permutation")
	}
	ciphers, err := decodeCiphertexts(group, raw.Ciphers)
	if err != nil {
		return nil, xerrors.Errorf("ledger: ballot %s: %w", raw.SerialNo, err)
	}
	return &CommittedBallot{SerialNo: raw.SerialNo, Permutation: raw.Permutation, Ciphers: ciphers}, nil
}

// CiphersFile indexes a ciphers file by serial number.
type CiphersFile = store.LazyStore[string, *CommittedBallot]

// OpenCiphers indexes the ciphers file at path. Records are decoded on first lookup.
func OpenCiphers(path string, group kyber.Group) (*CiphersFile, error) {
	return store.Open(path, store.FieldKey(SerialNoField), store.ExactFieldMatch(SerialNoField),
		func(line []byte) (*CommittedBallot, error) { return ParseCommittedBallot(group, line) })
}

// ServerRandomness holds the randomness values one mix server revealed for a ballot, as hex.
type ServerRandomness struct {
	PeerID string   `json:"peerID"`
	Values []string `json:"randomness"`
}

// BallotRandomness is every mix server's revealed randomness for one serial number.
type BallotRandomness struct {
	SerialNo string             `json:"serialNo"`
	Servers  []ServerRandomness `json:"servers"`
}

// RandomnessFile indexes a randomness file by serial number.
type RandomnessFile = store.LazyStore[string, *BallotRandomness]

// OpenRandomness indexes the revealed randomness file at path.
func OpenRandomness(path string) (*RandomnessFile, error) {
	return store.Open(path, store.FieldKey(SerialNoField), store.ExactFieldMatch(SerialNoField),
		func(line []byte) (*BallotRandomness, error) {
			var r BallotRandomness
			if err := json.Unmarshal(line, &r); err != nil {
				return nil, xerrors.Errorf("ledger: decoding randomness: %w", err)
			}
			if len(r.Servers) == 0 {
				return nil, xerrors.Errorf("ledger: ballot %s has no randomness", r.SerialNo)
			}
			return &r, nil
		})
}

// LoadBaseCiphers reads the base encrypted candidate ids, a JSON array of ciphertexts.
func LoadBaseCiphers(path string, group kyber.Group) ([]*crypto.ECCiphertext, error) {
	data, err := io.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []serialization.HexCiphertext
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, xerrors.Errorf("ledger: decoding base ciphers %s: %w", path, err)
	}
	return decodeCiphertexts(group, raw)
}

// LoadPublicKey reads the election public key, a JSON point.
func LoadPublicKey(path string, group kyber.Group) (kyber.Point, error) {
	pk, err := LoadPoint(path, group)
	if err != nil {
		return nil, xerrors.Errorf("ledger: public key: %w", err)
	}
	return pk, nil
}

// LoadPoint reads a single JSON point, such as the padding point.
func LoadPoint(path string, group kyber.Group) (kyber.Point, error) {
	data, err := io.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var hp serialization.HexPoint
	if err := json.Unmarshal(data, &hp); err != nil {
		return nil, xerrors.Errorf("ledger: decoding point %s: %w", path, err)
	}
	d := serialization.NewPointDecoder(group)
	p := d.Point(hp)
	if err := d.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeCiphertexts(group kyber.Group, raw []serialization.HexCiphertext) ([]*crypto.ECCiphertext, error) {
	d := serialization.NewPointDecoder(group)
	out := make([]*crypto.ECCiphertext, len(raw))
	for i, hc := range raw {
		gr, myr := d.Ciphertext(hc)
		if err := d.Err(); err != nil {
			return nil, xerrors.Errorf("cipher %d: %w", i, err)
		}
		out[i] = crypto.NewECCiphertext(group, gr, myr)
	}
	return out, nil
}
