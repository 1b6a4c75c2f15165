// Package messages parses the typed JSON messages committed by the bulletin
// board and defines the signable content of each kind.
package messages

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/xerrors"
)

// Message is one of the concrete message types in this package.
type Message interface {
	Kind() Kind
	CommitTime() string
	// SignableContent is the exact string fed into the round digest.
	SignableContent() string

	message()
}

// ValidationError names the member that failed validation.
type ValidationError struct {
	Kind  string
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("messages: %s message: field %q %s", e.Kind, e.Field, e.Msg)
}

// Header carries the members common to every message.
type Header struct {
	Type    string `json:"type"`
	Commit  string `json:"commitTime"`
	BoothID string `json:"boothID,omitempty"`
	Sig     string `json:"boothSig,omitempty"`
}

// CommitTime returns the commit time truncated to CommitTimeLength characters.
func (h Header) CommitTime() string {
	return TruncateCommitTime(h.Commit)
}

// FileMessage is a ballotgencommit, ballotauditcommit or file message.
type FileMessage struct {
	Header
	kind           Kind
	SubmissionID   string `json:"submissionID"`
	Digest         string `json:"digest"`
	InternalDigest string `json:"_digest"`
	FileName       string `json:"_fileName"`
	FileSize       int64  `json:"fileSize"`
}

func (m *FileMessage) Kind() Kind { return m.kind }
func (*FileMessage) message()     {}

func (m *FileMessage) SignableContent() string {
	return m.SubmissionID + m.Digest + m.BoothID + m.CommitTime()
}

// MixRandomCommitMessage is a file message committing a mix server's randomness for a printer.
type MixRandomCommitMessage struct {
	FileMessage
	PrinterID string `json:"printerID"`
}

func (*MixRandomCommitMessage) Kind() Kind { return KindMixRandomCommit }

func (m *MixRandomCommitMessage) SignableContent() string {
	return m.SubmissionID + m.BoothID + m.PrinterID + m.Digest + m.CommitTime()
}

// PODMessage records a print-on-demand ballot.
type PODMessage struct {
	Header
	SerialNo         string          `json:"serialNo"`
	District         string          `json:"district"`
	BallotReductions json.RawMessage `json:"ballotReductions"`
}

func (*PODMessage) Kind() Kind { return KindPOD }
func (*PODMessage) message()   {}

func (m *PODMessage) SignableContent() string {
	return m.SerialNo + m.District + compactJSON(m.BallotReductions) + m.CommitTime()
}

// VoteMessage records a cast vote.
type VoteMessage struct {
	Header
	SerialNo    string          `json:"serialNo"`
	District    string          `json:"district"`
	Preferences string          `json:"_vPrefs"`
	StartEVMSig string          `json:"startEVMSig,omitempty"`
	SerialSig   string          `json:"serialSig,omitempty"`
	Races       json.RawMessage `json:"races,omitempty"`
}

func (*VoteMessage) Kind() Kind { return KindVote }
func (*VoteMessage) message()   {}

func (m *VoteMessage) SignableContent() string {
	return m.SerialNo + m.District + m.Preferences + m.Sig + m.BoothID + m.CommitTime()
}

// CancelMessage cancels a ballot.
type CancelMessage struct {
	Header
	SerialNo      string `json:"serialNo"`
	CancelAuthID  string `json:"cancelAuthID"`
	CancelAuthSig string `json:"cancelAuthSig"`
}

func (*CancelMessage) Kind() Kind { return KindCancel }
func (*CancelMessage) message()   {}

func (m *CancelMessage) SignableContent() string {
	return "cancel" + m.SerialNo
}

// AuditMessage reveals the candidate permutation of an audited ballot.
type AuditMessage struct {
	Header
	SerialNo      string          `json:"serialNo"`
	Permutation   string          `json:"permutation"`
	CommitWitness string          `json:"commitWitness,omitempty"`
	ReducedPerms  json.RawMessage `json:"_reducedPerms,omitempty"`
}

func (*AuditMessage) Kind() Kind { return KindAudit }
func (*AuditMessage) message()   {}

func (m *AuditMessage) SignableContent() string {
	return "AUDIT" + m.SerialNo + m.CommitTime()
}

// Attachment returns the file message embedded in m, if m declares a file.
func Attachment(m Message) (*FileMessage, bool) {
	switch v := m.(type) {
	case *FileMessage:
		return v, true
	case *MixRandomCommitMessage:
		return &v.FileMessage, true
	default:
		return nil, false
	}
}

// Parse validates one JSON message and constructs its concrete type.
func Parse(data []byte) (Message, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, xerrors.Errorf("messages: not a JSON object: %w", err)
	}
	var tag string
	if raw, ok := members[FieldType]; !ok || json.Unmarshal(raw, &tag) != nil {
		return nil, &ValidationError{Kind: "untyped", Field: FieldType, Msg: "missing or not a string"}
	}
	kind, err := ParseKind(tag)
	if err != nil {
		return nil, err
	}
	if err := validate(kind, members); err != nil {
		return nil, err
	}
	return Construct(kind, data)
}

// Construct decodes data as the concrete type for kind without validation.
func Construct(kind Kind, data []byte) (Message, error) {
	var m Message
	switch kind {
	case KindPOD:
		m = &PODMessage{}
	case KindVote:
		m = &VoteMessage{}
	case KindMixRandomCommit:
		m = &MixRandomCommitMessage{FileMessage: FileMessage{kind: KindMixRandomCommit}}
	case KindBallotGenCommit, KindBallotAuditCommit, KindFile:
		m = &FileMessage{kind: kind}
	case KindCancel:
		m = &CancelMessage{}
	case KindAudit:
		m = &AuditMessage{}
	default:
		return nil, xerrors.Errorf("%w: %d", ErrUnknownType, int(kind))
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, xerrors.Errorf("messages: decoding %s message: %w", kind, err)
	}
	if fm, ok := Attachment(m); ok && fm.Digest != fm.InternalDigest {
		return nil, &ValidationError{Kind: kind.String(), Field: FieldInternalDigest,
			Msg: fmt.Sprintf("%q does not match digest %q", fm.InternalDigest, fm.Digest)}
	}
	return m, nil
}

func validate(kind Kind, members map[string]json.RawMessage) error {
	fields := append(append([]field{}, commonFields...), requiredFields[kind]...)
	for _, f := range fields {
		raw, ok := members[f.name]
		if !ok {
			return &ValidationError{Kind: kind.String(), Field: f.name, Msg: "is required"}
		}
		if !hasType(raw, f.typ) {
			return &ValidationError{Kind: kind.String(), Field: f.name, Msg: "must be a " + f.typ.String()}
		}
	}
	return nil
}

func hasType(raw json.RawMessage, t fieldType) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch t {
	case typeString:
		return raw[0] == '"'
	case typeArray:
		return raw[0] == '['
	case typeNumber:
		var n float64
		return (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9')) && json.Unmarshal(raw, &n) == nil
	}
	return false
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
