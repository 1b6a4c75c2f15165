package crypto

import (
	"math/big"

	"github.com/cronokirby/saferith"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// GroupOrder returns the order of group's scalar field.
func GroupOrder(group kyber.Group) (*big.Int, error) {
	minusOne, err := group.Scalar().SetInt64(-1).MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("crypto: reading group order: %w", err)
	}
	order := new(big.Int).SetBytes(minusOne)
	return order.Add(order, big.NewInt(1)), nil
}

// LagrangeWeights returns, for each node id in ids, its Lagrange coefficient at
// zero over the interpolation domain {id+1 : id in ids}, modulo the order of
// group. The domain is exactly ids; absent nodes do not contribute.
func LagrangeWeights(group kyber.Group, ids []int) ([]kyber.Scalar, error) {
	order, err := GroupOrder(group)
	if err != nil {
		return nil, err
	}
	modulus := saferith.ModulusFromBytes(order.Bytes())

	seen := make(map[int]struct{}, len(ids))
	xs := make([]*saferith.Nat, len(ids))
	for k, id := range ids {
		if id < 0 {
			return nil, xerrors.Errorf("crypto: negative node id %d", id)
		}
		if _, dup := seen[id]; dup {
			return nil, xerrors.Errorf("crypto: node id %d appears twice in interpolation domain", id)
		}
		seen[id] = struct{}{}
		xs[k] = new(saferith.Nat).SetUint64(uint64(id) + 1)
	}

	weights := make([]kyber.Scalar, len(ids))
	for i, xi := range xs {
		num := new(saferith.Nat).SetUint64(1)
		den := new(saferith.Nat).SetUint64(1)
		for j, xj := range xs {
			if i == j {
				continue
			}
			num.ModMul(num, xj, modulus)
			diff := new(saferith.Nat).ModSub(xj, xi, modulus)
			den.ModMul(den, diff, modulus)
		}
		w := new(saferith.Nat).ModInverse(den, modulus)
		w.ModMul(w, num, modulus)
		weights[i] = group.Scalar().SetBytes(w.Bytes())
	}
	return weights, nil
}
