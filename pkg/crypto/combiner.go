package crypto

import (
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	"golang.org/x/xerrors"
)

var (
	ErrInsufficientShares = xerrors.New("crypto: insufficient signature shares")
	ErrDuplicateShare     = xerrors.New("crypto: share already present for node")
	ErrNodeOutOfRange     = xerrors.New("crypto: node id out of range")
)

// ThresholdCombiner collects partial signatures by node id and reconstructs the
// joint signature once at least threshold of them are present.
type ThresholdCombiner struct {
	suite     pairing.Suite
	nodes     int
	threshold int
	shares    []kyber.Point // indexed by node id, nil for holes
	count     int
}

// NewThresholdCombiner creates a combiner for nodes signers and the given threshold.
func NewThresholdCombiner(suite pairing.Suite, nodes, threshold int) (*ThresholdCombiner, error) {
	if nodes <= 0 || threshold <= 0 {
		return nil, xerrors.Errorf("crypto: invalid combiner size nodes=%d threshold=%d", nodes, threshold)
	}
	if threshold > nodes {
		return nil, xerrors.Errorf("crypto: threshold %d is greater than number of nodes %d", threshold, nodes)
	}
	return &ThresholdCombiner{
		suite:     suite,
		nodes:     nodes,
		threshold: threshold,
		shares:    make([]kyber.Point, nodes),
	}, nil
}

// AddShare decodes a partial signature and stores it at nodeID.
func (c *ThresholdCombiner) AddShare(share []byte, nodeID int) error {
	p, err := DecodeSignature(c.suite, share)
	if err != nil {
		return xerrors.Errorf("crypto: share from node %d: %w", nodeID, err)
	}
	return c.AddSharePoint(p, nodeID)
}

// AddSharePoint stores an already decoded partial signature at nodeID.
func (c *ThresholdCombiner) AddSharePoint(share kyber.Point, nodeID int) error {
	if nodeID < 0 || nodeID >= c.nodes {
		return xerrors.Errorf("%w: %d not in [0,%d)", ErrNodeOutOfRange, nodeID, c.nodes)
	}
	if c.shares[nodeID] != nil {
		return xerrors.Errorf("%w: %d", ErrDuplicateShare, nodeID)
	}
	c.shares[nodeID] = share
	c.count++
	return nil
}

// Count returns the number of shares received.
func (c *ThresholdCombiner) Count() int {
	return c.count
}

// Participants returns the node ids holding a share, in ascending order.
func (c *ThresholdCombiner) Participants() []int {
	ids := make([]int, 0, c.count)
	for id, s := range c.shares {
		if s != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Combine interpolates the present shares at zero.
func (c *ThresholdCombiner) Combine() (kyber.Point, error) {
	if c.count < c.threshold {
		return nil, xerrors.Errorf("%w: have %d, need %d", ErrInsufficientShares, c.count, c.threshold)
	}
	ids := c.Participants()
	weights, err := LagrangeWeights(c.suite.G1(), ids)
	if err != nil {
		return nil, err
	}
	acc := c.suite.G1().Point().Null()
	for k, id := range ids {
		acc.Add(acc, c.suite.G1().Point().Mul(weights[k], c.shares[id]))
	}
	return acc, nil
}
