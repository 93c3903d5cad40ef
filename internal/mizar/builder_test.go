package mizar

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSource is a scripted BuildSource for builder tests.
type fakeSource struct {
	name        string
	buildDir    string
	pkgs        []string
	depends     map[string][]Restriction
	makedepends map[string][]Restriction
}

func (s *fakeSource) Name() string               { return s.name }
func (s *fakeSource) URI() string                { return "fake://" + s.name }
func (s *fakeSource) BuildDir() string           { return s.buildDir }
func (s *fakeSource) Update(force bool) error    { return nil }
func (s *fakeSource) Remove() error              { return nil }
func (s *fakeSource) Srcinfo() (*Srcinfo, error) { return &Srcinfo{Pkgbase: s.name}, nil }
func (s *fakeSource) Packagelist() ([]string, error) {
	return s.pkgs, nil
}
func (s *fakeSource) DependencyType(name string) string {
	if _, ok := s.depends[name]; ok {
		return "depends"
	}
	if _, ok := s.makedepends[name]; ok {
		return "makedepends"
	}
	return ""
}
func (s *fakeSource) DependencyRestrictions(name string) []Restriction {
	if rs, ok := s.depends[name]; ok {
		return rs
	}
	return s.makedepends[name]
}

// fakeEnv replays scripted results per source name and creates the
// source's artifacts on a successful exit, like a real build would.
type fakeEnv struct {
	t       *testing.T
	scripts map[string][]*cmdResult
	calls   map[string]int
	deps    map[string][][]string // dependency paths seen per invocation
}

func newFakeEnv(t *testing.T) *fakeEnv {
	return &fakeEnv{
		t:       t,
		scripts: make(map[string][]*cmdResult),
		calls:   make(map[string]int),
		deps:    make(map[string][][]string),
	}
}

func (e *fakeEnv) script(name string, results ...*cmdResult) {
	e.scripts[name] = append(e.scripts[name], results...)
}

func (e *fakeEnv) Makepkg(src BuildSource, deps []string) (*cmdResult, error) {
	name := src.Name()
	e.deps[name] = append(e.deps[name], deps)
	n := e.calls[name]
	e.calls[name]++
	if n >= len(e.scripts[name]) {
		return nil, fmt.Errorf("unexpected build of %s (attempt %d)", name, n+1)
	}
	res := e.scripts[name][n]
	if res.ExitCode == 0 {
		for _, p := range src.(*fakeSource).pkgs {
			require.NoError(e.t, os.WriteFile(p, []byte(name), 0o644))
		}
	}
	return res, nil
}

// fakeResolver maps names straight to sources.
type fakeResolver struct {
	sources map[string]BuildSource
}

func (r *fakeResolver) Resolve(name string, source Source) (BuildSource, error) {
	if src, ok := r.sources[name]; ok {
		return src, nil
	}
	return nil, &SourceNotFoundError{Name: name, Source: source}
}

// testFixture wires a parent package P with optional dependency sources
// into a Builder backed by fakes.
type testFixture struct {
	env      *fakeEnv
	resolver *fakeResolver
	localDir *LocalDir
	opts     BuilderOptions
}

func newFixture(t *testing.T) *testFixture {
	f := &testFixture{
		env:      newFakeEnv(t),
		resolver: &fakeResolver{sources: make(map[string]BuildSource)},
		localDir: &LocalDir{Path: "fake"},
	}
	f.opts = BuilderOptions{
		LocalDir: f.localDir,
		Resolver: f.resolver,
		Env:      f.env,
	}
	return f
}

func (f *testFixture) addSource(t *testing.T, name string) *fakeSource {
	t.Helper()
	dir := t.TempDir()
	src := &fakeSource{
		name:     name,
		buildDir: dir,
		pkgs:     []string{filepath.Join(dir, name+"-1-1-x86_64.pkg.tar.zst")},
	}
	f.resolver.sources[name] = src
	return src
}

func (f *testFixture) addProvider(name, version string, src BuildSource) {
	f.localDir.providers = append(f.localDir.providers, localProvider{
		Name:    name,
		Version: version,
		Sources: []BuildSource{src},
	})
}

func success() *cmdResult { return &cmdResult{ExitCode: 0} }

func missing(tokens ...string) *cmdResult {
	res := &cmdResult{ExitCode: 1}
	for _, tok := range tokens {
		res.Stdout = append(res.Stdout, "error: target not found: "+tok)
	}
	return res
}

func TestMissingTarget(t *testing.T) {
	token, ok := missingTarget("error: target not found: glibc>=2.38")
	require.True(t, ok)
	require.Equal(t, "glibc>=2.38", token)

	_, ok = missingTarget("==> ERROR: A failure occurred in build().")
	require.False(t, ok)
	_, ok = missingTarget("warning: target not found: x")
	require.False(t, ok)
}

func TestBuildSuccessPersistsManifest(t *testing.T) {
	f := newFixture(t)
	p := f.addSource(t, "P")
	f.env.script("P", success())

	b, err := NewBuilder("P", f.opts)
	require.NoError(t, err)
	artifacts, err := b.Build(0)
	require.NoError(t, err)
	require.Equal(t, p.pkgs, artifacts)
	require.True(t, fileExists(filepath.Join(p.buildDir, manifestName)))
}

func TestBuildIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addSource(t, "P")
	f.env.script("P", success())

	b, err := NewBuilder("P", f.opts)
	require.NoError(t, err)
	first, err := b.Build(0)
	require.NoError(t, err)

	// A fresh builder over the same build directory loads the manifest
	// and never re-invokes the build environment.
	b2, err := NewBuilder("P", f.opts)
	require.NoError(t, err)
	second, err := b2.Build(0)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, f.env.calls["P"])
}

func TestBuildDiscoversAndRetries(t *testing.T) {
	f := newFixture(t)
	p := f.addSource(t, "P")
	p.depends = map[string][]Restriction{"D": {{Compare: ">=", Version: "1"}}}
	d := f.addSource(t, "D")
	f.addProvider("D", "1", d)

	f.env.script("P", missing("D>=1"), success())
	f.env.script("D", success())

	b, err := NewBuilder("P", f.opts)
	require.NoError(t, err)
	artifacts, err := b.Build(0)
	require.NoError(t, err)

	require.ElementsMatch(t, append(append([]string{}, p.pkgs...), d.pkgs...), artifacts)
	require.Equal(t, 2, f.env.calls["P"])
	require.Equal(t, 1, f.env.calls["D"])
	require.Equal(t, newStringSet(d.pkgs...), b.Depends)
	require.Empty(t, b.Makedepends)

	// the retry pass received D's artifact for injection
	require.Equal(t, d.pkgs, f.env.deps["P"][1])

	// second run: cache hit, no further build invocations
	b2, err := NewBuilder("P", f.opts)
	require.NoError(t, err)
	again, err := b2.Build(0)
	require.NoError(t, err)
	require.ElementsMatch(t, artifacts, again)
	require.Equal(t, 2, f.env.calls["P"])
	require.Equal(t, 1, f.env.calls["D"])
}

func TestBuildClassification(t *testing.T) {
	f := newFixture(t)
	p := f.addSource(t, "P")
	p.depends = map[string][]Restriction{"a": nil}
	p.makedepends = map[string][]Restriction{"b": nil}
	a := f.addSource(t, "a")
	bdep := f.addSource(t, "b")
	f.addProvider("a", "1", a)
	f.addProvider("b", "1", bdep)

	f.env.script("P", missing("a", "b"), success())
	f.env.script("a", success())
	f.env.script("b", success())

	b, err := NewBuilder("P", f.opts)
	require.NoError(t, err)
	_, err = b.Build(0)
	require.NoError(t, err)
	require.Equal(t, newStringSet(a.pkgs...), b.Depends)
	require.Equal(t, newStringSet(bdep.pkgs...), b.Makedepends)
}

func TestBuildUnknownDependencyTreatedAsBuildOnly(t *testing.T) {
	f := newFixture(t)
	f.addSource(t, "P")
	x := f.addSource(t, "x")
	f.addProvider("x", "1", x)

	// "x" is not declared in either dependency map
	f.env.script("P", missing("x"), success())
	f.env.script("x", success())

	b, err := NewBuilder("P", f.opts)
	require.NoError(t, err)
	_, err = b.Build(0)
	require.NoError(t, err)
	require.Equal(t, newStringSet(x.pkgs...), b.Makedepends)
	require.Empty(t, b.Depends)
}

func TestBuildTerminalFailure(t *testing.T) {
	f := newFixture(t)
	p := f.addSource(t, "P")
	f.env.script("P", &cmdResult{ExitCode: 1, Stdout: []string{"==> ERROR: build failed"}})

	b, err := NewBuilder("P", f.opts)
	require.NoError(t, err)
	_, err = b.Build(0)
	require.ErrorIs(t, err, errBuildFailed)
	require.False(t, fileExists(filepath.Join(p.buildDir, manifestName)))
	require.Equal(t, 1, f.env.calls["P"])
}

func TestBuildRetryFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.addSource(t, "P")
	d := f.addSource(t, "D")
	f.addProvider("D", "1", d)

	f.env.script("P",
		missing("D"),
		&cmdResult{ExitCode: 1, Stdout: []string{"error: target not found: D"}})
	f.env.script("D", success())

	b, err := NewBuilder("P", f.opts)
	require.NoError(t, err)
	_, err = b.Build(0)
	require.ErrorIs(t, err, errBuildFailed)
	// exactly one retry: discovery does not run again on the second pass
	require.Equal(t, 2, f.env.calls["P"])
}

func TestBuildProviderNotFound(t *testing.T) {
	f := newFixture(t)
	p := f.addSource(t, "P")
	p.depends = map[string][]Restriction{"D": {{Compare: ">", Version: "3"}}}
	d := f.addSource(t, "D")
	f.addProvider("D", "3", d)

	f.env.script("P", missing("D>3"))

	b, err := NewBuilder("P", f.opts)
	require.NoError(t, err)
	_, err = b.Build(0)
	var notFound *ProviderNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "D", notFound.Name)
	require.Equal(t, []Restriction{{Compare: ">", Version: "3"}}, notFound.Restrictions)
}

func TestNewBuilderSourceNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := NewBuilder("nope", f.opts)
	var notFound *SourceNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "nope", notFound.Name)
}

func TestBuildRebuildIgnoresManifest(t *testing.T) {
	f := newFixture(t)
	f.addSource(t, "P")
	f.env.script("P", success(), success())

	b, err := NewBuilder("P", f.opts)
	require.NoError(t, err)
	_, err = b.Build(0)
	require.NoError(t, err)

	b2, err := NewBuilder("P", f.opts)
	require.NoError(t, err)
	_, err = b2.Build(1)
	require.NoError(t, err)
	require.Equal(t, 2, f.env.calls["P"])
}
