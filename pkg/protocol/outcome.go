package protocol

import (
	gocontext "context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/xerrors"
	"wbbaudit/pkg/concurrency"
	"wbbaudit/pkg/crypto"
	"wbbaudit/pkg/io"
)

// FailureKind classifies why a round or ballot did not verify.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureMalformed
	FailureMismatch
	FailureInsufficient
	FailureIO
	FailureTimeout
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureMalformed:
		return "malformed"
	case FailureMismatch:
		return "mismatch"
	case FailureInsufficient:
		return "insufficient"
	case FailureIO:
		return "io"
	case FailureTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// MismatchError is a cryptographic check that failed on well-formed input.
type MismatchError struct {
	ID       string
	What     string
	Expected string
	Computed string
	Elements []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %s mismatch: expected %s, computed %s", e.ID, e.What, e.Expected, e.Computed)
}

// Outcome is the verification result of one round or ballot.
type Outcome struct {
	ID       string        `cbor:"id" json:"id"`
	Verified bool          `cbor:"verified" json:"verified"`
	Kind     FailureKind   `cbor:"kind" json:"kind"`
	Message  string        `cbor:"message,omitempty" json:"message,omitempty"`
	Expected string        `cbor:"expected,omitempty" json:"expected,omitempty"`
	Computed string        `cbor:"computed,omitempty" json:"computed,omitempty"`
	Elements []string      `cbor:"elements,omitempty" json:"elements,omitempty"`
	Elapsed  time.Duration `cbor:"elapsed" json:"elapsed"`
}

// NewOutcome converts the error of a verification into an outcome.
func NewOutcome(id string, err error, elapsed time.Duration) Outcome {
	o := Outcome{ID: id, Verified: err == nil, Kind: Classify(err), Elapsed: elapsed}
	if err == nil {
		return o
	}
	o.Message = err.Error()
	var mismatch *MismatchError
	if xerrors.As(err, &mismatch) {
		o.Expected, o.Computed, o.Elements = mismatch.Expected, mismatch.Computed, mismatch.Elements
	}
	var commitErr *crypto.CommitmentMismatchError
	if xerrors.As(err, &commitErr) {
		o.Expected, o.Computed = commitErr.Commitment, commitErr.Computed
	}
	return o
}

// Classify maps an error onto a failure kind. Anything not recognised is malformed input.
func Classify(err error) FailureKind {
	var mismatch *MismatchError
	var commitErr *crypto.CommitmentMismatchError
	var ioErr *io.Error
	switch {
	case err == nil:
		return FailureNone
	case xerrors.Is(err, concurrency.ErrTimeout), xerrors.Is(err, gocontext.DeadlineExceeded):
		return FailureTimeout
	case xerrors.As(err, &mismatch), xerrors.As(err, &commitErr):
		return FailureMismatch
	case xerrors.Is(err, crypto.ErrInsufficientShares):
		return FailureInsufficient
	case xerrors.As(err, &ioErr):
		return FailureIO
	default:
		return FailureMalformed
	}
}

// String is the one-line diagnostic for the outcome.
func (o Outcome) String() string {
	if o.Verified {
		return fmt.Sprintf("%s: verified (%s)", o.ID, o.Elapsed.Round(time.Millisecond))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: FAILED [%s] %s", o.ID, o.Kind, o.Message)
	if len(o.Elements) > 0 {
		fmt.Fprintf(&b, " elements=[%s]", strings.Join(o.Elements, ", "))
	}
	return b.String()
}

// Report names.
const (
	ReportCommits = "commits"
	ReportBallots = "ballots"
	ReportPacking = "packing"
)

// Report collects the outcomes of one verification pass.
type Report struct {
	Name     string    `cbor:"name" json:"name"`
	Outcomes []Outcome `cbor:"outcomes" json:"outcomes"`
}

// Verified is the conjunction of all outcomes. An empty report does not verify.
func (r *Report) Verified() bool {
	if len(r.Outcomes) == 0 {
		return false
	}
	for _, o := range r.Outcomes {
		if !o.Verified {
			return false
		}
	}
	return true
}

// Failures returns the outcomes that did not verify.
func (r *Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Verified {
			out = append(out, o)
		}
	}
	return out
}

// Durations returns the elapsed time of every outcome.
func (r *Report) Durations() []time.Duration {
	out := make([]time.Duration, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out[i] = o.Elapsed
	}
	return out
}
