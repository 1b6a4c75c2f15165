// Package io holds the file and archive operations used by the verifiers.
package io

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	stdio "io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/log"
)

// Error is an I/O failure on a published artifact. Missing or corrupt files
// are transient: the caller may retry them once before giving up.
type Error struct {
	Op        string
	Path      string
	Err       error
	transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("io: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches ErrTransient for missing or corrupt inputs.
func (e *Error) Is(target error) bool {
	return target == ErrTransient && e.transient
}

// ErrTransient matches every I/O error worth retrying.
var ErrTransient = xerrors.New("io: transient failure")

// IsTransient reports whether err is an I/O error worth retrying.
func IsTransient(err error) bool {
	return xerrors.Is(err, ErrTransient)
}

func transient(op, path string, err error) error {
	return &Error{Op: op, Path: path, Err: err, transient: true}
}

func fatal(op, path string, err error) error {
	return &Error{Op: op, Path: path, Err: err}
}

// ExtractionDir is the directory an archive is extracted into: its path without extension.
func ExtractionDir(zipPath string) string {
	return strings.TrimSuffix(zipPath, filepath.Ext(zipPath))
}

// ExtractZip extracts zipPath into ExtractionDir(zipPath) and returns that directory.
func ExtractZip(zipPath string) (string, error) {
	dest := ExtractionDir(zipPath)
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", transient("open archive", zipPath, err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fatal("create", dest, err)
	}
	root := filepath.Clean(dest) + string(os.PathSeparator)
	for _, f := range r.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, root) {
			return "", fatal("extract", zipPath, xerrors.Errorf("entry %q escapes the extraction directory", f.Name))
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", fatal("create", target, err)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return "", transient("extract", zipPath, err)
		}
	}
	log.Debug("Extracted %d entries from %s", len(r.File), zipPath)
	return dest, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := stdio.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CheckFileSize compares the size of path with expected. A mismatch is only
// logged as a warning; a missing file is an error.
func CheckFileSize(path string, expected int64) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, transient("stat", path, err)
	}
	if info.Size() != expected {
		log.Warn("File size mismatch for %s: expected %d bytes, found %d", path, expected, info.Size())
		return false, nil
	}
	return true, nil
}

// Fingerprint returns the BLAKE3 digest of a file, used to identify attachments in diagnostics.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", transient("open", path, err)
	}
	defer f.Close()
	h := blake3.New()
	if _, err := stdio.Copy(h, f); err != nil {
		return "", transient("read", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadFile reads a whole published file.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, transient("read", path, err)
	}
	return data, nil
}

// ReadLines returns the non-empty lines of a file.
func ReadLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, transient("open", path, err)
	}
	defer f.Close()

	var lines [][]byte
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			lines = append(lines, trimmed)
		}
		if err == stdio.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, transient("read", path, err)
		}
	}
}
