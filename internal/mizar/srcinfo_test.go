package mizar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleSrcinfo = `pkgbase = tzupdate
	pkgdesc = Set the system timezone based on IP geolocation
	pkgver = 2.1.0
	pkgrel = 3
	url = https://github.com/cdown/tzupdate
	arch = any
	license = MIT
	makedepends = python-setuptools
	depends = python-requests
	provides = tz-setter=2.1.0

pkgname = tzupdate
	depends = python-requests
`

func TestParseSrcinfo(t *testing.T) {
	info, err := parseSrcinfo(sampleSrcinfo)
	require.NoError(t, err)
	require.Equal(t, "tzupdate", info.Pkgbase)
	require.Equal(t, "2.1.0", info.Pkgver)
	require.Equal(t, "3", info.Pkgrel)
	require.Equal(t, []string{"tzupdate"}, info.Pkgnames)
	require.Equal(t, []string{"python-requests"}, info.Depends)
	require.Equal(t, []string{"python-setuptools"}, info.Makedepends)
	require.Equal(t, []string{"tz-setter=2.1.0"}, info.Provides)
	require.Equal(t, "2.1.0-3", info.Version())
}

func TestParseSrcinfoEpoch(t *testing.T) {
	info, err := parseSrcinfo("pkgbase = git\n\tpkgver = 2.46.0\n\tpkgrel = 1\n\tepoch = 1\n")
	require.NoError(t, err)
	require.Equal(t, "1:2.46.0-1", info.Version())
}

func TestParseSrcinfoMissingPkgbase(t *testing.T) {
	_, err := parseSrcinfo("pkgver = 1.0\n")
	require.Error(t, err)
}

func TestParseSrcinfoPerPackageSectionIgnored(t *testing.T) {
	text := "pkgbase = split\n\tpkgver = 1\n\tdepends = libfoo\n" +
		"pkgname = split-a\n\tdepends = libbar\n" +
		"pkgname = split-b\n"
	info, err := parseSrcinfo(text)
	require.NoError(t, err)
	require.Equal(t, []string{"libfoo"}, info.Depends)
	require.Equal(t, []string{"split-a", "split-b"}, info.Pkgnames)
}
