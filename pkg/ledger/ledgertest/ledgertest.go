// Package ledgertest writes round bundles for tests.
package ledgertest

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"wbbaudit/pkg/ledger"
)

// Bundle describes a round to write. Signature.JSONFile and AttachmentFile
// default to the names the ledger expects.
type Bundle struct {
	ID          string
	Messages    []string
	Attachments map[string][]byte
	Signature   ledger.SignatureFile
}

// Write stores b in dir and returns the paths of its three files.
func Write(dir string, b Bundle) (*ledger.Bundle, error) {
	out := &ledger.Bundle{
		ID:             b.ID,
		MessagesPath:   filepath.Join(dir, b.ID+ledger.MessagesExt),
		SignaturePath:  filepath.Join(dir, b.ID+ledger.SignatureSuffix),
		AttachmentPath: filepath.Join(dir, b.ID+ledger.AttachmentSuffix),
	}

	var lines []byte
	for _, m := range b.Messages {
		lines = append(lines, m...)
		lines = append(lines, '\n')
	}
	if err := os.WriteFile(out.MessagesPath, lines, 0o644); err != nil {
		return nil, err
	}
	if err := writeZip(out.AttachmentPath, b.Attachments); err != nil {
		return nil, err
	}

	sig := b.Signature
	if sig.JSONFile == "" {
		sig.JSONFile = filepath.Base(out.MessagesPath)
	}
	if sig.AttachmentFile == "" {
		sig.AttachmentFile = filepath.Base(out.AttachmentPath)
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(out.SignaturePath, data, 0o644); err != nil {
		return nil, err
	}
	return out, nil
}

func writeZip(path string, files map[string][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := zip.NewWriter(f)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, err := w.Create(name)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := fw.Write(files[name]); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
