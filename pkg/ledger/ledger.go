// Package ledger reads the artifacts published by the bulletin board: the
// commitment round bundles and the committed ballot ciphers.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"
	"wbbaudit/pkg/io"
	"wbbaudit/pkg/log"
	"wbbaudit/pkg/messages"
)

const (
	MessagesExt      = ".json"
	SignatureSuffix  = "_signature.json"
	AttachmentSuffix = "_attachments.zip"
)

// BundleError reports a round bundle that is incomplete or inconsistent.
type BundleError struct {
	ID  string
	Msg string
}

func (e *BundleError) Error() string {
	return fmt.Sprintf("ledger: round %s: %s", e.ID, e.Msg)
}

// SignatureShare is the partial signature of one peer.
type SignatureShare struct {
	Peer string `json:"peer"`
	Sig  string `json:"sig"`
}

// SignatureFile is the detached signature published with every round.
type SignatureFile struct {
	JointSig       string           `json:"jointSig"`
	JSONFile       string           `json:"jsonFile"`
	AttachmentFile string           `json:"attachmentFile"`
	CommitTime     string           `json:"commitTime"`
	Description    string           `json:"description,omitempty"`
	Shares         []SignatureShare `json:"shares,omitempty"`
}

// Bundle locates the three files of one round. Missing parts are empty.
type Bundle struct {
	ID             string
	MessagesPath   string
	SignaturePath  string
	AttachmentPath string
}

// Round is a loaded bundle: the messages, the extracted attachments and the signature.
type Round struct {
	ID            string
	Signature     SignatureFile
	Messages      []messages.Message
	AttachmentDir string
}

// Ledger is the set of round bundles found in a commits folder.
type Ledger struct {
	dir     string
	bundles []*Bundle
}

// Open discovers every round bundle in dir. Files that belong to no bundle are ignored.
func Open(dir string) (*Ledger, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Errorf("ledger: reading commits folder: %w", err)
	}
	byID := make(map[string]*Bundle)
	get := func(id string) *Bundle {
		b, ok := byID[id]
		if !ok {
			b = &Bundle{ID: id}
			byID[id] = b
		}
		return b
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, SignatureSuffix):
			get(strings.TrimSuffix(name, SignatureSuffix)).SignaturePath = path
		case strings.HasSuffix(name, AttachmentSuffix):
			get(strings.TrimSuffix(name, AttachmentSuffix)).AttachmentPath = path
		case strings.HasSuffix(name, MessagesExt):
			get(strings.TrimSuffix(name, MessagesExt)).MessagesPath = path
		default:
			log.Trace("Ignoring %s in commits folder", name)
		}
	}

	l := &Ledger{dir: dir, bundles: make([]*Bundle, 0, len(byID))}
	for _, b := range byID {
		l.bundles = append(l.bundles, b)
	}
	sort.Slice(l.bundles, func(i, j int) bool { return l.bundles[i].ID < l.bundles[j].ID })
	log.Info("Found %d round bundles in %s", len(l.bundles), dir)
	return l, nil
}

// Bundles returns the bundles ordered by identifier.
func (l *Ledger) Bundles() []*Bundle {
	return l.bundles
}

// Check reports a bundle with a missing part.
func (b *Bundle) Check() error {
	var missing []string
	if b.MessagesPath == "" {
		missing = append(missing, "messages file")
	}
	if b.SignaturePath == "" {
		missing = append(missing, "signature file")
	}
	if b.AttachmentPath == "" {
		missing = append(missing, "attachment archive")
	}
	if len(missing) > 0 {
		return &BundleError{ID: b.ID, Msg: "missing " + strings.Join(missing, ", ")}
	}
	return nil
}

// Load reads the signature file, parses every message and extracts the attachments.
func (b *Bundle) Load() (*Round, error) {
	if err := b.Check(); err != nil {
		return nil, err
	}
	sig, err := readSignature(b.SignaturePath)
	if err != nil {
		return nil, err
	}
	if sig.JSONFile != filepath.Base(b.MessagesPath) {
		return nil, &BundleError{ID: b.ID, Msg: fmt.Sprintf("signature names messages file %q, found %q",
			sig.JSONFile, filepath.Base(b.MessagesPath))}
	}
	if sig.AttachmentFile != filepath.Base(b.AttachmentPath) {
		return nil, &BundleError{ID: b.ID, Msg: fmt.Sprintf("signature names attachment %q, found %q",
			sig.AttachmentFile, filepath.Base(b.AttachmentPath))}
	}
	if sig.JointSig == "" || sig.CommitTime == "" {
		return nil, &BundleError{ID: b.ID, Msg: "signature file lacks jointSig or commitTime"}
	}

	msgs, err := b.Messages()
	if err != nil {
		return nil, err
	}
	r := &Round{ID: b.ID, Signature: *sig, Messages: msgs}

	if r.AttachmentDir, err = io.ExtractZip(b.AttachmentPath); err != nil {
		return nil, err
	}
	log.Debug("Loaded round %s: %d messages", b.ID, len(r.Messages))
	return r, nil
}

// Messages parses the messages file of the bundle without touching the
// signature or the attachments.
func (b *Bundle) Messages() ([]messages.Message, error) {
	if b.MessagesPath == "" {
		return nil, &BundleError{ID: b.ID, Msg: "missing messages file"}
	}
	lines, err := io.ReadLines(b.MessagesPath)
	if err != nil {
		return nil, err
	}
	out := make([]messages.Message, 0, len(lines))
	for i, line := range lines {
		m, err := messages.Parse(line)
		if err != nil {
			return nil, xerrors.Errorf("ledger: round %s message %d: %w", b.ID, i+1, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// AttachmentPath resolves the extracted file named by a file message.
func (r *Round) AttachmentPath(fm *messages.FileMessage) (string, error) {
	path := filepath.Join(r.AttachmentDir, fm.FileName)
	if fm.FileName == "" || !strings.HasPrefix(path, filepath.Clean(r.AttachmentDir)+string(os.PathSeparator)) {
		return "", &BundleError{ID: r.ID, Msg: fmt.Sprintf("attachment name %q is invalid", fm.FileName)}
	}
	return path, nil
}

func readSignature(path string) (*SignatureFile, error) {
	data, err := io.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sig SignatureFile
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, xerrors.Errorf("ledger: decoding signature %s: %w", path, err)
	}
	return &sig, nil
}
