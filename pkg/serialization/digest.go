package serialization

import (
	"crypto/sha1"
	"hash"
	"io"
	"os"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// Digest accumulates the bytes of a signature input into a running hash.
// The first error is sticky; later writes are no-ops.
type Digest struct {
	h   hash.Hash
	n   int64
	err error
}

// NewDigest wraps h.
func NewDigest(h hash.Hash) *Digest {
	return &Digest{h: h}
}

// NewSHA1Digest returns a digest over SHA-1, the bulletin board's round digest.
func NewSHA1Digest() *Digest {
	return NewDigest(sha1.New())
}

func (d *Digest) Write(data []byte) {
	if d.err != nil {
		return
	}
	n, err := d.h.Write(data)
	d.n += int64(n)
	d.err = err
}

func (d *Digest) WriteString(s string) {
	d.Write([]byte(s))
}

func (d *Digest) WriteKyber(obj ...kyber.Marshaling) {
	if d.err != nil {
		return
	}
	for _, o := range obj {
		n, err := o.MarshalTo(d.h)
		d.n += int64(n)
		if err != nil {
			d.err = err
			return
		}
	}
}

// WriteFile streams the contents of path into the digest.
func (d *Digest) WriteFile(path string) {
	if d.err != nil {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		d.err = xerrors.Errorf("serialization: hashing %s: %w", path, err)
		return
	}
	defer f.Close()
	n, err := io.Copy(d.h, f)
	d.n += n
	if err != nil {
		d.err = xerrors.Errorf("serialization: hashing %s: %w", path, err)
	}
}

// Len returns the number of bytes written so far.
func (d *Digest) Len() int64 {
	return d.n
}

func (d *Digest) Sum() ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.h.Sum(nil), nil
}
