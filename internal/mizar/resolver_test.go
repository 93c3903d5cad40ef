package mizar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestPkgbuild(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PKGBUILD"), []byte("pkgname=x\n"), 0o644))
}

func TestResolvePath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mytool")
	writeTestPkgbuild(t, dir)

	r := NewResolver("", "", nil)
	src, err := r.Resolve(dir, SourceEither)
	require.NoError(t, err)
	require.Equal(t, "mytool", src.Name())
	require.Equal(t, "file://"+dir, src.URI())
}

func TestResolveLocalTree(t *testing.T) {
	tree := t.TempDir()
	writeTestPkgbuild(t, filepath.Join(tree, "foo"))

	r := NewResolver(tree, "", nil)
	src, err := r.Resolve("foo", SourceEither)
	require.NoError(t, err)
	require.Equal(t, "foo", src.Name())
	require.Equal(t, "file://"+filepath.Join(tree, "foo"), src.URI())
}

func TestResolveDirWithoutPkgbuild(t *testing.T) {
	tree := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tree, "empty"), 0o755))

	r := NewResolver(tree, "", nil)
	_, err := r.Resolve("empty", SourceEither)
	var noPkg *NoPkgbuildError
	require.ErrorAs(t, err, &noPkg)
	require.Equal(t, filepath.Join(tree, "empty"), noPkg.Dir)
}

func TestResolveLocalOnlyNotFound(t *testing.T) {
	r := NewResolver(t.TempDir(), "", nil)
	_, err := r.Resolve("absent", SourceLocal)
	var notFound *SourceNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "absent", notFound.Name)
	require.Equal(t, SourceLocal, notFound.Source)
}

func TestResolveRegistry(t *testing.T) {
	reg, _ := newTestRegistry(t, map[string]registryInfo{
		"foo": {Name: "foo", Version: "1-1", URLPath: "/snap/foo.tar.gz"},
	})
	tree := t.TempDir()
	writeTestPkgbuild(t, filepath.Join(tree, "foo"))

	// registry-only resolution skips the local tree even when it has a hit
	r := NewResolver(tree, "", reg)
	src, err := r.Resolve("foo", SourceRegistry)
	require.NoError(t, err)
	require.Equal(t, "foo", src.Name())
	require.Equal(t, reg.URL+"/foo.git", src.URI())
}

func TestResolveRegistryNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)

	r := NewResolver(t.TempDir(), "", reg)
	_, err := r.Resolve("ghost", SourceEither)
	var notFound *SourceNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, SourceRegistry, notFound.Source)
}

func TestSourceString(t *testing.T) {
	require.Equal(t, "any", SourceEither.String())
	require.Equal(t, "local", SourceLocal.String())
	require.Equal(t, "registry", SourceRegistry.String())
}
