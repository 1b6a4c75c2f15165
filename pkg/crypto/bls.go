package crypto

import (
	"encoding/base64"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	"golang.org/x/xerrors"
)

// hashablePoint is implemented by signature-group points that support hash-to-group.
type hashablePoint interface {
	Hash([]byte) kyber.Point
}

// BLSPublicKey is the read-only key material of a signer: a generator of the
// key group and the public key element X = x * G.
type BLSPublicKey struct {
	G kyber.Point
	X kyber.Point
}

// HashToG1 maps msg into the signature group.
func HashToG1(suite pairing.Suite, msg []byte) (kyber.Point, error) {
	hashable, ok := suite.G1().Point().(hashablePoint)
	if !ok {
		return nil, xerrors.New("crypto: signature group does not support hash-to-point")
	}
	return hashable.Hash(msg), nil
}

// BLSVerify checks pairing(sig, G) == pairing(H(msg), X).
func BLSVerify(suite pairing.Suite, msg []byte, sig kyber.Point, key *BLSPublicKey) bool {
	if sig == nil || key == nil || key.G == nil || key.X == nil {
		return false
	}
	HM, err := HashToG1(suite, msg)
	if err != nil {
		return false
	}
	left := suite.Pair(sig, key.G)
	right := suite.Pair(HM, key.X)
	return left.Equal(right)
}

// DecodeSignature reads a signature-group element from its binary encoding.
func DecodeSignature(suite pairing.Suite, b []byte) (kyber.Point, error) {
	p := suite.G1().Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, xerrors.Errorf("crypto: decoding signature element: %w", err)
	}
	return p, nil
}

// DecodeSignatureBase64 decodes a base64 signature element.
func DecodeSignatureBase64(suite pairing.Suite, s string) (kyber.Point, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, xerrors.Errorf("crypto: signature is not base64: %w", err)
	}
	return DecodeSignature(suite, b)
}

// DecodeKeyElementBase64 decodes a base64 element of the key group.
func DecodeKeyElementBase64(suite pairing.Suite, s string) (kyber.Point, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, xerrors.Errorf("crypto: key element is not base64: %w", err)
	}
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, xerrors.Errorf("crypto: decoding key element: %w", err)
	}
	return p, nil
}

// EncodeBase64 marshals a point to base64.
func EncodeBase64(p kyber.Point) string {
	b, err := p.MarshalBinary()
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}
