package crypto

import (
	"bytes"
	gocrypto "crypto"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/xerrors"
)

const (
	// CommitmentHash is the digest used by every hash commitment.
	CommitmentHash = gocrypto.SHA256
	// RandomValueMaxLength bounds the randomness; longer values are hashed down first.
	RandomValueMaxLength = 32
)

// CommitmentMismatchError names the evaluation path that rejected an opening.
type CommitmentMismatchError struct {
	Path       string
	Commitment string
	Computed   string
}

func (e *CommitmentMismatchError) Error() string {
	return fmt.Sprintf("crypto: commitment does not open (%s path): published %s, computed %s",
		e.Path, e.Commitment, e.Computed)
}

// HashCommitment is an opened commitment: the digest plus the secret it binds.
type HashCommitment struct {
	Secret     []byte
	Commitment []byte
}

// HashCommitter evaluates commitments of the form H(secret || message).
type HashCommitter struct {
	newHash   func() hash.Hash
	maxLength int
}

// NewHashCommitter returns a committer over the given hash and message bound.
func NewHashCommitter(h gocrypto.Hash, maxLength int) *HashCommitter {
	return &HashCommitter{newHash: h.New, maxLength: maxLength}
}

// Commit binds secret to message.
func (hc *HashCommitter) Commit(secret, message []byte) HashCommitment {
	return HashCommitment{Secret: secret, Commitment: hc.calculate(secret, message)}
}

// IsRevealed reports whether message together with c.Secret opens c.Commitment.
func (hc *HashCommitter) IsRevealed(c HashCommitment, message []byte) bool {
	return subtle.ConstantTimeCompare(c.Commitment, hc.calculate(c.Secret, message)) == 1
}

func (hc *HashCommitter) calculate(secret, message []byte) []byte {
	if len(message) > hc.maxLength {
		d := hc.newHash()
		d.Write(message)
		message = d.Sum(nil)
	}
	d := hc.newHash()
	d.Write(secret)
	d.Write(message)
	return d.Sum(nil)
}

// HashCommit computes the commitment for (witness, randomness).
func HashCommit(witness, randomness []byte) []byte {
	return manualCommitment(witness, randomness)
}

// VerifyHashCommitment checks that (witness, randomness) opens commitment on
// three independently written paths. All three must accept.
func VerifyHashCommitment(commitment, witness, randomness []byte) error {
	committer := NewHashCommitter(CommitmentHash, RandomValueMaxLength)
	if !committer.IsRevealed(HashCommitment{Secret: witness, Commitment: commitment}, randomness) {
		return &CommitmentMismatchError{
			Path:       "committer",
			Commitment: hex.EncodeToString(commitment),
			Computed:   hex.EncodeToString(committer.calculate(witness, randomness)),
		}
	}

	if computed := manualCommitment(witness, randomness); !bytes.Equal(computed, commitment) {
		return &CommitmentMismatchError{
			Path:       "manual",
			Commitment: hex.EncodeToString(commitment),
			Computed:   hex.EncodeToString(computed),
		}
	}

	ok, computed, err := referenceCommitment(hex.EncodeToString(commitment), hex.EncodeToString(witness), hex.EncodeToString(randomness))
	if err != nil {
		return xerrors.Errorf("crypto: reference commitment path: %w", err)
	}
	if !ok {
		return &CommitmentMismatchError{Path: "reference", Commitment: hex.EncodeToString(commitment), Computed: computed}
	}
	return nil
}

// manualCommitment hashes the concatenation in a single buffer.
func manualCommitment(witness, randomness []byte) []byte {
	if len(randomness) > RandomValueMaxLength {
		sum := sha256.Sum256(randomness)
		randomness = sum[:]
	}
	buf := make([]byte, 0, len(witness)+len(randomness))
	buf = append(buf, witness...)
	buf = append(buf, randomness...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

// referenceCommitment works entirely on hexadecimal strings, streaming the
// decoded inputs into the digest and comparing hex encodings.
func referenceCommitment(commitHex, witnessHex, randomHex string) (bool, string, error) {
	if len(randomHex) > 2*RandomValueMaxLength {
		d := sha256.New()
		if _, err := io.Copy(d, hex.NewDecoder(strings.NewReader(randomHex))); err != nil {
			return false, "", err
		}
		randomHex = hex.EncodeToString(d.Sum(nil))
	}
	d := sha256.New()
	in := io.MultiReader(
		hex.NewDecoder(strings.NewReader(witnessHex)),
		hex.NewDecoder(strings.NewReader(randomHex)),
	)
	if _, err := io.Copy(d, in); err != nil {
		return false, "", err
	}
	computed := hex.EncodeToString(d.Sum(nil))
	return strings.EqualFold(computed, commitHex), computed, nil
}
