package crypto

import (
	"bytes"
	"fmt"
	"io"
	"math/big"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// ErrCurveMismatch is returned when two operands live on different curves.
var ErrCurveMismatch = xerrors.New("crypto: operands are on different curves")

// ECCiphertext holds the public components of an EC-ElGamal encryption.
type ECCiphertext struct {
	Group kyber.Group
	C1    kyber.Point // gr:  r * G
	C2    kyber.Point // myr: M + r * Pk
}

// NewECCiphertext wraps two points of group into a ciphertext.
func NewECCiphertext(group kyber.Group, c1, c2 kyber.Point) *ECCiphertext {
	return &ECCiphertext{Group: group, C1: c1, C2: c2}
}

// Encrypt encrypts the point M under Pk with the given randomness r.
func Encrypt(group kyber.Group, M, Pk kyber.Point, r kyber.Scalar) *ECCiphertext {
	c1 := group.Point().Mul(r, nil)
	c2 := group.Point().Add(M, group.Point().Mul(r, Pk))
	return &ECCiphertext{Group: group, C1: c1, C2: c2}
}

// Reencrypt returns a fresh ciphertext of the same plaintext, randomised by r.
func (ct *ECCiphertext) Reencrypt(Pk kyber.Point, r kyber.Scalar) *ECCiphertext {
	return &ECCiphertext{
		Group: ct.Group,
		C1:    ct.Group.Point().Add(ct.C1, ct.Group.Point().Mul(r, nil)),
		C2:    ct.Group.Point().Add(ct.C2, ct.Group.Point().Mul(r, Pk)),
	}
}

// Add returns the component-wise sum of two ciphertexts.
func (ct *ECCiphertext) Add(o *ECCiphertext) (*ECCiphertext, error) {
	if !SameGroup(ct.Group, o.Group) {
		return nil, xerrors.Errorf("%w: %s and %s", ErrCurveMismatch, ct.Group, o.Group)
	}
	return &ECCiphertext{
		Group: ct.Group,
		C1:    ct.Group.Point().Add(ct.C1, o.C1),
		C2:    ct.Group.Point().Add(ct.C2, o.C2),
	}, nil
}

// Mul returns both components multiplied by k.
func (ct *ECCiphertext) Mul(k kyber.Scalar) *ECCiphertext {
	return &ECCiphertext{
		Group: ct.Group,
		C1:    ct.Group.Point().Mul(k, ct.C1),
		C2:    ct.Group.Point().Mul(k, ct.C2),
	}
}

// Decrypt recovers the plaintext point. Only test fixtures hold private keys.
func (ct *ECCiphertext) Decrypt(sk kyber.Scalar) (kyber.Point, error) {
	if ct == nil || ct.C1 == nil || ct.C2 == nil || sk == nil {
		return nil, fmt.Errorf("crypto: decrypting uninitialized ElGamal ciphertext or private key")
	}
	X := ct.Group.Point().Mul(sk, ct.C1)
	return ct.Group.Point().Sub(ct.C2, X), nil
}

// Equal reports whether both points of the two ciphertexts are identical.
func (ct *ECCiphertext) Equal(o *ECCiphertext) bool {
	if ct == nil || o == nil {
		return ct == o
	}
	return SameGroup(ct.Group, o.Group) && ct.C1.Equal(o.C1) && ct.C2.Equal(o.C2)
}

// Compare orders ciphertexts by the unsigned integer value of the encoding of
// C1, falling back to C2 on ties. It returns -1, 0 or +1.
func (ct *ECCiphertext) Compare(o *ECCiphertext) int {
	if c := comparePoints(ct.C1, o.C1); c != 0 {
		return c
	}
	return comparePoints(ct.C2, o.C2)
}

// WriteTo serializes the ciphertext to a writer.
func (ct *ECCiphertext) WriteTo(w io.Writer) (int64, error) {
	if ct.C1 == nil || ct.C2 == nil {
		return 0, fmt.Errorf("crypto: writing uninitialized ElGamal ciphertext")
	}
	n1, err := ct.C1.MarshalTo(w)
	if err != nil {
		return int64(n1), err
	}
	n2, err := ct.C2.MarshalTo(w)
	return int64(n1) + int64(n2), err
}

// String returns a formatted string representation of the ciphertext.
func (ct *ECCiphertext) String() string {
	return fmt.Sprintf("gr: %s, myr: %s", ct.C1, ct.C2)
}

// SameGroup reports whether a and b are the same named group.
func SameGroup(a, b kyber.Group) bool {
	if a == nil || b == nil {
		return false
	}
	return a.String() == b.String()
}

// ScalarFromBig reduces a non-negative integer into a scalar of group.
func ScalarFromBig(group kyber.Group, v *big.Int) kyber.Scalar {
	return group.Scalar().SetBytes(v.Bytes())
}

// ScalarFromDigest interprets a digest as a big-endian unsigned integer.
func ScalarFromDigest(group kyber.Group, digest []byte) kyber.Scalar {
	return ScalarFromBig(group, new(big.Int).SetBytes(digest))
}

func comparePoints(a, b kyber.Point) int {
	ab, errA := a.MarshalBinary()
	bb, errB := b.MarshalBinary()
	if errA != nil || errB != nil {
		// Points from a valid group always marshal.
		panic(fmt.Sprintf("crypto: marshalling point for ordering: %v %v", errA, errB))
	}
	return compareUnsigned(ab, bb)
}

// compareUnsigned compares two big-endian byte strings as unsigned integers.
func compareUnsigned(a, b []byte) int {
	a = bytes.TrimLeft(a, "\x00")
	b = bytes.TrimLeft(b, "\x00")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return bytes.Compare(a, b)
}
