package io

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "1400000000000_attachments.zip")
	writeZip(t, zipPath, map[string]string{"a.bin": "alpha", "sub/b.bin": "beta"})

	dest, err := ExtractZip(zipPath)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "1400000000000_attachments"), dest)

	b, err := os.ReadFile(filepath.Join(dest, "sub", "b.bin"))
	require.NoError(t, err)
	require.Equal(t, "beta", string(b))

	t.Run("missing archive is transient", func(t *testing.T) {
		_, err := ExtractZip(filepath.Join(dir, "missing.zip"))
		require.Error(t, err)
		require.True(t, IsTransient(err))
	})

	t.Run("corrupt archive is transient", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.zip")
		require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))
		_, err := ExtractZip(bad)
		require.True(t, IsTransient(err))
	})

	t.Run("escaping entries are rejected", func(t *testing.T) {
		evil := filepath.Join(dir, "evil.zip")
		writeZip(t, evil, map[string]string{"../outside.txt": "x"})
		_, err := ExtractZip(evil)
		require.Error(t, err)
		require.False(t, IsTransient(err))
		_, statErr := os.Stat(filepath.Join(dir, "outside.txt"))
		require.True(t, os.IsNotExist(statErr))
	})
}

func TestCheckFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o644))

	ok, err := CheckFileSize(path, 5)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = CheckFileSize(path, 6)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = CheckFileSize(path+".missing", 5)
	require.True(t, IsTransient(err))
}

func TestFingerprintAndReadLines(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("{\"x\":1}\n\n  {\"x\":2}\r\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("different"), 0o644))

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	require.Len(t, fa, 64)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	require.NotEqual(t, fa, fb)

	lines, err := ReadLines(a)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, `{"x":2}`, string(lines[1]))
}
