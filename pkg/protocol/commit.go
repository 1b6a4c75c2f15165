// Package protocol holds the verifiers: the commitment round orchestrator and
// the ballot generation audit.
package protocol

import (
	gocontext "context"
	"encoding/base64"
	"fmt"
	"time"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/actors"
	"wbbaudit/pkg/concurrency"
	"wbbaudit/pkg/context"
	"wbbaudit/pkg/crypto"
	"wbbaudit/pkg/io"
	"wbbaudit/pkg/ledger"
	"wbbaudit/pkg/log"
	"wbbaudit/pkg/messages"
	"wbbaudit/pkg/metrics"
	"wbbaudit/pkg/serialization"
)

// FinalCommitTag is the message type prefixed to every joint signature input.
const FinalCommitTag = "Commit"

// CommitmentVerifier checks the joint signature of every commitment round.
type CommitmentVerifier struct {
	ctx   *context.OperationContext
	certs *actors.Certificates
}

func NewCommitmentVerifier(ctx *context.OperationContext, certs *actors.Certificates) *CommitmentVerifier {
	return &CommitmentVerifier{ctx: ctx, certs: certs}
}

// roundDigest holds the values the joint signature covers.
type roundDigest struct {
	hash        []byte
	input       []byte
	elements    []string
	attachments []string
}

// VerifyAll verifies every bundle of l with bounded parallelism. A failing
// round never stops the others.
func (v *CommitmentVerifier) VerifyAll(parent gocontext.Context, l *ledger.Ledger) (*Report, error) {
	bundles := l.Bundles()
	report := &Report{Name: ReportCommits, Outcomes: make([]Outcome, len(bundles))}
	log.Info("Verifying %d commitment rounds with %d workers", len(bundles), v.ctx.Config.Cores)

	err := record(v.ctx, "Commits_VerifyRounds", metrics.MPairing, func() error {
		return concurrency.Bounded(parent, bundles, v.ctx.Config.Cores, v.ctx.Config.RoundTimeout,
			v.verifyRound,
			func(i int, b *ledger.Bundle, err error, elapsed time.Duration) {
				o := NewOutcome(b.ID, err, elapsed)
				report.Outcomes[i] = o
				if o.Verified {
					log.Info("Verified joint signature of round %s", b.ID)
				} else {
					log.Error("Round %s", o)
				}
			})
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// VerifyRound verifies a single round.
func (v *CommitmentVerifier) VerifyRound(ctx gocontext.Context, b *ledger.Bundle) Outcome {
	start := time.Now()
	err := v.verifyRound(ctx, b)
	return NewOutcome(b.ID, err, time.Since(start))
}

func (v *CommitmentVerifier) verifyRound(ctx gocontext.Context, b *ledger.Bundle) error {
	var round *ledger.Round
	var digest *roundDigest
	err := concurrency.Retry(v.ctx.Config.IORetries, io.IsTransient, func() error {
		var err error
		if round, err = b.Load(); err != nil {
			return err
		}
		digest, err = v.digestRound(round)
		return err
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	suite := v.ctx.Params.Pairing
	sig := round.Signature
	jointSig, err := crypto.DecodeSignatureBase64(suite, sig.JointSig)
	if err != nil {
		return xerrors.Errorf("round %s: %w", round.ID, err)
	}
	if !crypto.BLSVerify(suite, digest.input, jointSig, v.certs.WBB.Key) {
		return &MismatchError{
			ID:       round.ID,
			What:     "joint signature",
			Expected: sig.JointSig,
			Computed: base64.StdEncoding.EncodeToString(digest.input),
			Elements: append(append([]string{}, digest.elements...), digest.attachments...),
		}
	}
	if len(sig.Shares) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return v.checkShares(round, digest, jointSig)
}

// digestRound computes the round hash over the signable content of every
// message and the bytes of every attachment, then the joint signature input.
func (v *CommitmentVerifier) digestRound(r *ledger.Round) (*roundDigest, error) {
	d := serialization.NewSHA1Digest()
	rd := &roundDigest{}
	for _, m := range r.Messages {
		d.WriteString(m.SignableContent())
		fm, ok := messages.Attachment(m)
		if !ok {
			continue
		}
		path, err := r.AttachmentPath(fm)
		if err != nil {
			return nil, err
		}
		if _, err := io.CheckFileSize(path, fm.FileSize); err != nil {
			return nil, err
		}
		fp, err := io.Fingerprint(path)
		if err != nil {
			return nil, err
		}
		rd.attachments = append(rd.attachments, fmt.Sprintf("%s blake3:%s", fm.FileName, fp))
		log.Trace("Adding hash of file %s to round %s", fm.FileName, r.ID)
		d.WriteFile(path)
	}
	hash, err := d.Sum()
	if err != nil {
		return nil, xerrors.Errorf("round %s: %w", r.ID, err)
	}
	rd.hash = hash
	rd.input, rd.elements, err = SignatureInput(r.Signature.CommitTime, hash, r.Signature.Description)
	if err != nil {
		return nil, err
	}
	return rd, nil
}

// SignatureInput is the digest the bulletin board signs for a round:
// SHA1(FinalCommitTag || commitTime || roundHash || description). Only the
// first messages.CommitTimeLength characters of commitTime are signed. It also
// returns the elements in printable form.
func SignatureInput(commitTime string, roundHash []byte, description string) ([]byte, []string, error) {
	commitTime = messages.TruncateCommitTime(commitTime)
	d := serialization.NewSHA1Digest()
	d.WriteString(FinalCommitTag)
	d.WriteString(commitTime)
	d.Write(roundHash)
	elements := []string{FinalCommitTag, commitTime, base64.StdEncoding.EncodeToString(roundHash)}
	if description != "" {
		d.WriteString(description)
		elements = append(elements, description)
	}
	sum, err := d.Sum()
	if err != nil {
		return nil, nil, err
	}
	return sum, elements, nil
}

// checkShares re-combines the published peer shares. Each share must verify
// under its peer's partial key when one is known, and the combination must
// equal the published joint signature.
func (v *CommitmentVerifier) checkShares(r *ledger.Round, digest *roundDigest, jointSig kyber.Point) error {
	suite := v.ctx.Params.Pairing
	combiner, err := crypto.NewThresholdCombiner(suite, v.certs.Nodes(), v.ctx.Config.Threshold)
	if err != nil {
		return err
	}
	for _, s := range r.Signature.Shares {
		peer, ok := v.certs.Peer(s.Peer)
		if !ok {
			return xerrors.Errorf("round %s: share from unknown peer %q", r.ID, s.Peer)
		}
		share, err := crypto.DecodeSignatureBase64(suite, s.Sig)
		if err != nil {
			return xerrors.Errorf("round %s: share from %s: %w", r.ID, s.Peer, err)
		}
		if peer.PartialKey != nil && !crypto.BLSVerify(suite, digest.input, share, peer.PartialKey) {
			return &MismatchError{ID: r.ID, What: "share of " + s.Peer, Expected: s.Sig,
				Computed: base64.StdEncoding.EncodeToString(digest.input), Elements: digest.elements}
		}
		if err := combiner.AddSharePoint(share, peer.SequenceNo); err != nil {
			return xerrors.Errorf("round %s: %w", r.ID, err)
		}
	}
	combined, err := combiner.Combine()
	if err != nil {
		return xerrors.Errorf("round %s: %w", r.ID, err)
	}
	if !combined.Equal(jointSig) || !crypto.BLSVerify(suite, digest.input, combined, v.certs.WBB.Key) {
		return &MismatchError{ID: r.ID, What: "combined signature", Expected: r.Signature.JointSig,
			Computed: crypto.EncodeBase64(combined), Elements: digest.elements}
	}
	log.Debug("Round %s: %d peer shares combine to the joint signature", r.ID, combiner.Count())
	return nil
}

// record measures f when the context carries a recorder.
func record(ctx *context.OperationContext, name string, mt metrics.MeasurementType, f func() error) error {
	if ctx.Recorder == nil {
		return f()
	}
	return ctx.Recorder.Record(name, mt, f)
}
