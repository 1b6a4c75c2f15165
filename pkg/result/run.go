// Package result records the outcome of a verification run: CSV files, a
// persistent run database, a Merkle fingerprint and an optional PDF report.
package result

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cbergoon/merkletree"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/protocol"
)

// Run is everything one invocation verified.
type Run struct {
	ID        string            `cbor:"id"`
	StartedAt int64             `cbor:"started"` // unix nanoseconds
	Reports   []protocol.Report `cbor:"reports"`
	Root      []byte            `cbor:"root,omitempty"`
}

// NewRun starts a run with a fresh identifier.
func NewRun() *Run {
	return &Run{ID: uuid.New().String(), StartedAt: time.Now().UnixNano()}
}

// Add appends a report and refreshes the Merkle root.
func (r *Run) Add(report *protocol.Report) error {
	r.Reports = append(r.Reports, *report)
	root, err := OutcomeRoot(r.Outcomes())
	if err != nil {
		return err
	}
	r.Root = root
	return nil
}

// Outcomes returns the outcomes of every report in order.
func (r *Run) Outcomes() []protocol.Outcome {
	var out []protocol.Outcome
	for _, rep := range r.Reports {
		out = append(out, rep.Outcomes...)
	}
	return out
}

// Verified reports whether every report of the run verified.
func (r *Run) Verified() bool {
	if len(r.Reports) == 0 {
		return false
	}
	for i := range r.Reports {
		if !r.Reports[i].Verified() {
			return false
		}
	}
	return true
}

// Started returns the start time of the run.
func (r *Run) Started() time.Time {
	return time.Unix(0, r.StartedAt)
}

// RootHex is the Merkle root in hex, empty when nothing was verified.
func (r *Run) RootHex() string {
	return hex.EncodeToString(r.Root)
}

// outcomeContent is a Merkle leaf: the CBOR encoding of one outcome without its timing.
type outcomeContent struct {
	outcome protocol.Outcome
}

func (c outcomeContent) CalculateHash() ([]byte, error) {
	o := c.outcome
	o.Elapsed = 0
	b, err := cbor.Marshal(o)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}

func (c outcomeContent) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(outcomeContent)
	if !ok {
		return false, xerrors.New("result: comparing an outcome with foreign content")
	}
	a, err := c.CalculateHash()
	if err != nil {
		return false, err
	}
	b, err := o.CalculateHash()
	if err != nil {
		return false, err
	}
	return string(a) == string(b), nil
}

// OutcomeRoot is the Merkle root over the outcomes, ignoring timings, so two
// runs over the same data produce the same root.
func OutcomeRoot(outcomes []protocol.Outcome) ([]byte, error) {
	if len(outcomes) == 0 {
		return nil, nil
	}
	tree, err := buildTree(outcomes)
	if err != nil {
		return nil, err
	}
	return tree.MerkleRoot(), nil
}

// VerifyOutcome reports whether o is one of the leaves of outcomes.
func VerifyOutcome(outcomes []protocol.Outcome, o protocol.Outcome) (bool, error) {
	if len(outcomes) == 0 {
		return false, nil
	}
	tree, err := buildTree(outcomes)
	if err != nil {
		return false, err
	}
	return tree.VerifyContent(outcomeContent{o})
}

func buildTree(outcomes []protocol.Outcome) (*merkletree.MerkleTree, error) {
	leaves := make([]merkletree.Content, len(outcomes))
	for i, o := range outcomes {
		leaves[i] = outcomeContent{o}
	}
	tree, err := merkletree.NewTree(leaves)
	if err != nil {
		return nil, xerrors.Errorf("result: building outcome tree: %w", err)
	}
	return tree, nil
}
