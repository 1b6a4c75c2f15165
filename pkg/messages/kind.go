package messages

import (
	"strings"

	"golang.org/x/xerrors"
)

// Kind enumerates the message types published on the bulletin board.
type Kind int

const (
	KindPOD Kind = iota
	KindVote
	KindMixRandomCommit
	KindBallotGenCommit
	KindBallotAuditCommit
	KindFile
	KindCancel
	KindAudit
)

// ErrUnknownType is returned for type tags outside the known set.
var ErrUnknownType = xerrors.New("messages: unknown message type")

var kindTags = [...]string{
	KindPOD:               "pod",
	KindVote:              "vote",
	KindMixRandomCommit:   "mixrandomcommit",
	KindBallotGenCommit:   "ballotgencommit",
	KindBallotAuditCommit: "ballotauditcommit",
	KindFile:              "file",
	KindCancel:            "cancel",
	KindAudit:             "audit",
}

// Kinds lists every known kind.
func Kinds() []Kind {
	out := make([]Kind, len(kindTags))
	for i := range kindTags {
		out[i] = Kind(i)
	}
	return out
}

// ParseKind resolves a type tag, ignoring case.
func ParseKind(tag string) (Kind, error) {
	t := strings.ToLower(strings.TrimSpace(tag))
	for i, name := range kindTags {
		if name == t {
			return Kind(i), nil
		}
	}
	return 0, xerrors.Errorf("%w: %q", ErrUnknownType, tag)
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindTags) {
		return "unknown"
	}
	return kindTags[k]
}

// HasAttachment reports whether messages of this kind declare a file.
func (k Kind) HasAttachment() bool {
	switch k {
	case KindMixRandomCommit, KindBallotGenCommit, KindBallotAuditCommit, KindFile:
		return true
	default:
		return false
	}
}
