package mizar

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name string
	body string
}

func writeSnapshotTarball(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := pgzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: e.name,
			Mode: 0o644,
			Size: int64(len(e.body)),
		}))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func TestExtractArchiveStripsPrefix(t *testing.T) {
	tmp := t.TempDir()
	snap := filepath.Join(tmp, "foo.tar.gz")
	writeSnapshotTarball(t, snap, []tarEntry{
		{name: "foo/PKGBUILD", body: "pkgname=foo\n"},
		{name: "foo/keys/pgp/key.asc", body: "key\n"},
		{name: "other/stray", body: "ignored\n"},
	})

	dest := filepath.Join(tmp, "build")
	require.NoError(t, extractArchive(snap, dest, "foo/"))

	data, err := os.ReadFile(filepath.Join(dest, "PKGBUILD"))
	require.NoError(t, err)
	require.Equal(t, "pkgname=foo\n", string(data))
	require.True(t, fileExists(filepath.Join(dest, "keys", "pgp", "key.asc")))
	require.False(t, fileExists(filepath.Join(dest, "stray")))
}

func TestExtractArchiveRejectsTraversal(t *testing.T) {
	tmp := t.TempDir()
	snap := filepath.Join(tmp, "evil.tar.gz")
	writeSnapshotTarball(t, snap, []tarEntry{
		{name: "foo/../../escape", body: "x\n"},
	})

	err := extractArchive(snap, filepath.Join(tmp, "build"), "foo/")
	require.Error(t, err)
	require.False(t, fileExists(filepath.Join(tmp, "escape")))
}

func TestExtractArchiveUnsupportedFormat(t *testing.T) {
	tmp := t.TempDir()
	bad := filepath.Join(tmp, "foo.rar")
	touch(t, bad)
	require.Error(t, extractArchive(bad, filepath.Join(tmp, "build"), ""))
}
