package serialization

import (
	"encoding/hex"
	"math/big"
	"strings"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// HexPoint is the wire form of an affine curve point with hex coordinates.
type HexPoint struct {
	X string `json:"x"`
	Y string `json:"y"`
}

// HexCiphertext is the wire form of an ElGamal ciphertext.
type HexCiphertext struct {
	GR  HexPoint `json:"gr"`
	MYR HexPoint `json:"myr"`
}

// PointDecoder turns hex coordinates into points of one group. The first
// error is sticky and later decodes return nil.
type PointDecoder struct {
	group kyber.Group
	err   error
}

func NewPointDecoder(group kyber.Group) *PointDecoder {
	return &PointDecoder{group: group}
}

// Point decodes an uncompressed point. Off-curve coordinates are an error.
func (d *PointDecoder) Point(hp HexPoint) kyber.Point {
	if d.err != nil {
		return nil
	}
	x, ok := new(big.Int).SetString(strings.TrimPrefix(hp.X, "0x"), 16)
	if !ok {
		d.err = xerrors.Errorf("serialization: x coordinate %q is not hex", hp.X)
		return nil
	}
	y, ok := new(big.Int).SetString(strings.TrimPrefix(hp.Y, "0x"), 16)
	if !ok {
		d.err = xerrors.Errorf("serialization: y coordinate %q is not hex", hp.Y)
		return nil
	}
	coordLen := (d.group.PointLen() - 1) / 2
	if x.Sign() < 0 || y.Sign() < 0 || len(x.Bytes()) > coordLen || len(y.Bytes()) > coordLen {
		d.err = xerrors.Errorf("serialization: coordinates out of range for %s", d.group)
		return nil
	}
	buf := make([]byte, 1+2*coordLen)
	buf[0] = 0x04
	x.FillBytes(buf[1 : 1+coordLen])
	y.FillBytes(buf[1+coordLen:])

	p := d.group.Point()
	if err := p.UnmarshalBinary(buf); err != nil {
		d.err = xerrors.Errorf("serialization: point (%s, %s) not on %s: %w", hp.X, hp.Y, d.group, err)
		return nil
	}
	return p
}

// Ciphertext decodes both points of a wire ciphertext.
func (d *PointDecoder) Ciphertext(hc HexCiphertext) (gr, myr kyber.Point) {
	return d.Point(hc.GR), d.Point(hc.MYR)
}

func (d *PointDecoder) Err() error {
	return d.err
}

// EncodePoint returns the hex coordinates of an uncompressed point.
func EncodePoint(p kyber.Point) (HexPoint, error) {
	b, err := p.MarshalBinary()
	if err != nil {
		return HexPoint{}, err
	}
	if len(b) < 3 || b[0] != 0x04 || len(b)%2 != 1 {
		return HexPoint{}, xerrors.Errorf("serialization: point encoding is not uncompressed affine")
	}
	coordLen := (len(b) - 1) / 2
	return HexPoint{
		X: hex.EncodeToString(b[1 : 1+coordLen]),
		Y: hex.EncodeToString(b[1+coordLen:]),
	}, nil
}
