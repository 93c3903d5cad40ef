package mizar

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setTestBuildRoot(t *testing.T) {
	t.Helper()
	old := BuildRoot
	BuildRoot = t.TempDir()
	t.Cleanup(func() { BuildRoot = old })
}

// writePkgbuildDir creates a PKGBUILD directory with a pre-generated
// .SRCINFO so metadata loads from the cache instead of invoking makepkg.
func writePkgbuildDir(t *testing.T, root, dir, srcinfo string) {
	t.Helper()
	full := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(full, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(full, "PKGBUILD"), []byte("pkgname placeholder\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(full, ".SRCINFO"), []byte(srcinfo), 0o644))
	stamp := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(full, "PKGBUILD"), stamp, stamp))
	require.NoError(t, os.Chtimes(filepath.Join(full, ".SRCINFO"), stamp, stamp))
}

func srcinfoText(pkgbase, pkgver string, extra ...string) string {
	text := fmt.Sprintf("pkgbase = %s\n\tpkgver = %s\n\tpkgrel = 1\n", pkgbase, pkgver)
	for _, line := range extra {
		text += "\t" + line + "\n"
	}
	return text
}

func TestLocalPkgbuildSrcinfoFromCache(t *testing.T) {
	setTestBuildRoot(t)
	tree := t.TempDir()
	writePkgbuildDir(t, tree, "foo",
		srcinfoText("foo", "2.0", "depends = libbar>=1", "makedepends = cmake"))

	src := NewLocalPkgbuild("foo", filepath.Join(tree, "foo"), "")
	info, err := src.Srcinfo()
	require.NoError(t, err)
	require.Equal(t, "foo", info.Pkgbase)
	require.Equal(t, "2.0", info.Pkgver)

	require.Equal(t, "depends", src.DependencyType("libbar"))
	require.Equal(t, "makedepends", src.DependencyType("cmake"))
	require.Equal(t, "", src.DependencyType("unknown"))
	require.Equal(t, []Restriction{{Compare: ">=", Version: "1"}},
		src.DependencyRestrictions("libbar"))

	// build dir was populated by the sync
	require.True(t, fileExists(filepath.Join(src.BuildDir(), "PKGBUILD")))
}

func TestLocalPkgbuildRemove(t *testing.T) {
	setTestBuildRoot(t)
	tree := t.TempDir()
	writePkgbuildDir(t, tree, "foo", srcinfoText("foo", "1"))

	src := NewLocalPkgbuild("foo", filepath.Join(tree, "foo"), "")
	require.NoError(t, src.Update(false))
	require.True(t, dirExists(src.BuildDir()))
	require.NoError(t, src.Remove())
	require.False(t, dirExists(src.BuildDir()))
	// removing an already-absent build dir is fine
	require.NoError(t, src.Remove())
}

func TestLocalDirIndexesProvides(t *testing.T) {
	setTestBuildRoot(t)
	tree := t.TempDir()
	writePkgbuildDir(t, tree, "rustup",
		srcinfoText("rustup", "1.27", "provides = rust=1.80", "provides = cargo"))
	writePkgbuildDir(t, tree, "plain", srcinfoText("plain", "5"))

	d := NewLocalDir(tree, "")
	require.NoError(t, d.Update(false))

	srcs, err := d.Providers("rust", nil)
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	require.Equal(t, "rustup", srcs[0].Name())

	// a provides entry without "=version" defaults to the pkgver
	srcs, err = d.Providers("cargo", []Restriction{{Compare: "=", Version: "1.27"}})
	require.NoError(t, err)
	require.Equal(t, "rustup", srcs[0].Name())

	// undeclared pkgbase is indexed under its own identity
	_, err = d.Providers("plain", nil)
	require.NoError(t, err)
}

func TestLocalDirRestrictionFiltering(t *testing.T) {
	setTestBuildRoot(t)
	tree := t.TempDir()
	for _, v := range []string{"1", "2", "3"} {
		writePkgbuildDir(t, tree, "x"+v,
			srcinfoText("x"+v, v, "provides = x="+v))
	}

	d := NewLocalDir(tree, "")
	srcs, err := d.Providers("x", []Restriction{{Compare: ">", Version: "2"}})
	require.NoError(t, err)
	require.Equal(t, "x3", srcs[0].Name())

	_, err = d.Providers("x", []Restriction{{Compare: ">", Version: "3"}})
	var notFound *ProviderNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "x", notFound.Name)
	require.Equal(t, []Restriction{{Compare: ">", Version: "3"}}, notFound.Restrictions)
}

func TestLocalDirSkipsBrokenEntries(t *testing.T) {
	setTestBuildRoot(t)
	tree := t.TempDir()
	writePkgbuildDir(t, tree, "good", srcinfoText("good", "1"))
	// directory without a PKGBUILD
	require.NoError(t, os.MkdirAll(filepath.Join(tree, "empty"), 0o755))
	// stray file at the top level
	require.NoError(t, os.WriteFile(filepath.Join(tree, "README"), []byte("x"), 0o644))

	d := NewLocalDir(tree, "")
	require.NoError(t, d.Update(false))
	srcs, err := d.Providers("good", nil)
	require.NoError(t, err)
	require.Len(t, srcs, 1)

	_, err = d.Providers("empty", nil)
	require.Error(t, err)
}

func TestLocalDirLazyRescan(t *testing.T) {
	setTestBuildRoot(t)
	tree := t.TempDir()
	writePkgbuildDir(t, tree, "a", srcinfoText("a", "1"))

	d := NewLocalDir(tree, "")
	require.NoError(t, d.Update(false))
	_, err := d.Providers("a", nil)
	require.NoError(t, err)

	// a package added after the scan is invisible until a refresh
	writePkgbuildDir(t, tree, "b", srcinfoText("b", "1"))
	_, err = d.Providers("b", nil)
	require.Error(t, err)

	d.Refresh()
	_, err = d.Providers("b", nil)
	require.NoError(t, err)
}
