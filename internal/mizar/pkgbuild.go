package mizar

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Source selects where a PKGBUILD may be resolved from.
type Source int

const (
	// SourceEither tries local first, then the registry.
	SourceEither Source = iota
	SourceLocal
	SourceRegistry
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceRegistry:
		return "registry"
	}
	return "any"
}

// NoPkgbuildError is returned when a directory exists but does not contain
// a PKGBUILD file.
type NoPkgbuildError struct {
	Dir string
}

func (e *NoPkgbuildError) Error() string {
	return fmt.Sprintf("directory %s does not contain a PKGBUILD file", e.Dir)
}

// SourceNotFoundError is returned when no source can be found for a name.
// It records which sources were attempted.
type SourceNotFoundError struct {
	Name   string
	Source Source
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source for %s not found (%s)", e.Name, e.Source)
}

// ParseSrcinfoError is returned when a PKGBUILD's srcinfo cannot be
// generated or parsed.
type ParseSrcinfoError struct {
	Name string
	Err  error
}

func (e *ParseSrcinfoError) Error() string {
	return fmt.Sprintf("%s: failed to parse srcinfo: %v", e.Name, e.Err)
}

func (e *ParseSrcinfoError) Unwrap() error { return e.Err }

// BuildSource is a buildable PKGBUILD, local or registry-backed. It owns a
// build directory under BuildRoot and exposes the dependency metadata the
// builder needs to classify and retry missing targets.
type BuildSource interface {
	Name() string
	URI() string
	BuildDir() string
	// Update refreshes the build directory from the origin. It is cheap
	// to call repeatedly; force bypasses the per-run staleness check.
	Update(force bool) error
	Remove() error
	Srcinfo() (*Srcinfo, error)
	// Packagelist returns the artifact paths makepkg will produce.
	Packagelist() ([]string, error)
	// DependencyType returns "depends", "makedepends", or "" when the
	// name is not declared by this PKGBUILD.
	DependencyType(name string) string
	DependencyRestrictions(name string) []Restriction
}

// syncer refreshes a build directory from its origin; reports whether
// anything changed.
type syncer interface {
	sync(p *pkgbuild, force bool) (bool, error)
}

// pkgbuild carries the state shared by local and registry sources:
// the build directory, lazy srcinfo, and parsed dependency maps.
type pkgbuild struct {
	name        string
	uri         string
	buildPath   string // BuildRoot/<source kind>
	buildDir    string // buildPath/<name>
	makepkgConf string
	origin      syncer

	checkUpdate bool
	packagelist []string
	srcinfo     *Srcinfo
	depends     map[string][]Restriction
	makedepends map[string][]Restriction
}

func newPkgbuild(name, kind, uri, makepkgConf string, origin syncer) *pkgbuild {
	buildPath := filepath.Join(BuildRoot, kind)
	return &pkgbuild{
		name:        name,
		uri:         uri,
		buildPath:   buildPath,
		buildDir:    filepath.Join(buildPath, name),
		makepkgConf: makepkgConf,
		origin:      origin,
		checkUpdate: true,
	}
}

func (p *pkgbuild) Name() string     { return p.name }
func (p *pkgbuild) URI() string      { return p.uri }
func (p *pkgbuild) BuildDir() string { return p.buildDir }

// Remove deletes the build directory and marks the source stale.
func (p *pkgbuild) Remove() error {
	if !fileExists(p.buildDir) {
		return nil
	}
	colArrow.Print("-> ")
	colInfo.Printf("%s: removing build dir [%s]\n", p.name, p.buildDir)
	if err := os.RemoveAll(p.buildDir); err != nil {
		return fmt.Errorf("%s: remove build dir: %w", p.name, err)
	}
	p.checkUpdate = true
	return nil
}

// Update refreshes the build directory from the origin. Local sources are
// mirrored from their PKGBUILD directory, registry sources are fetched.
func (p *pkgbuild) Update(force bool) error {
	if !p.checkUpdate && !force {
		return nil
	}
	if err := os.MkdirAll(p.buildPath, 0o755); err != nil {
		return fmt.Errorf("%s: create build path: %w", p.name, err)
	}
	changed, err := p.origin.sync(p, force)
	if err != nil {
		return fmt.Errorf("%s: update: %w", p.name, err)
	}
	if changed {
		colArrow.Print("-> ")
		colInfo.Printf("%s: PKGBUILD [%s -> %s]\n", p.name, p.uri, p.buildDir)
	}
	p.checkUpdate = false
	return nil
}

// makepkgCapture runs makepkg in the build directory and returns its stdout.
func (p *pkgbuild) makepkgCapture(args ...string) (string, error) {
	if p.makepkgConf != "" {
		args = append(args, "--config", p.makepkgConf)
	}
	cmd := exec.CommandContext(UserExec.Context, "makepkg", args...)
	cmd.Dir = p.buildDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s: makepkg %s: %w", p.name, args[0], err)
	}
	return string(out), nil
}

// Packagelist returns the paths of the packages this PKGBUILD produces.
func (p *pkgbuild) Packagelist() ([]string, error) {
	if p.packagelist != nil {
		return p.packagelist, nil
	}
	if err := p.Update(false); err != nil {
		return nil, err
	}
	out, err := p.makepkgCapture("--packagelist")
	if err != nil {
		return nil, err
	}
	p.packagelist = strings.Fields(out)
	return p.packagelist, nil
}

// Srcinfo returns the parsed srcinfo, generating and caching .SRCINFO in
// the build directory when the PKGBUILD is newer than the cached copy.
func (p *pkgbuild) Srcinfo() (*Srcinfo, error) {
	if p.srcinfo != nil {
		return p.srcinfo, nil
	}
	if err := p.Update(false); err != nil {
		return nil, err
	}

	cache := filepath.Join(p.buildDir, ".SRCINFO")
	pkgbuildPath := filepath.Join(p.buildDir, "PKGBUILD")

	var text string
	if fresh, _ := isNewer(cache, pkgbuildPath); fresh {
		data, err := os.ReadFile(cache)
		if err != nil {
			return nil, &ParseSrcinfoError{Name: p.name, Err: err}
		}
		text = string(data)
	} else {
		colArrow.Print("-> ")
		colInfo.Printf("%s: generating .SRCINFO [%s]\n", p.name, p.buildDir)
		out, err := p.makepkgCapture("--printsrcinfo")
		if err != nil {
			return nil, &ParseSrcinfoError{Name: p.name, Err: err}
		}
		text = out
		if err := os.WriteFile(cache, []byte(text), 0o644); err != nil {
			return nil, &ParseSrcinfoError{Name: p.name, Err: err}
		}
	}

	info, err := parseSrcinfo(text)
	if err != nil {
		return nil, &ParseSrcinfoError{Name: p.name, Err: err}
	}
	p.srcinfo = info
	return info, nil
}

// isNewer reports whether a exists and is at least as new as b.
func isNewer(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return !bi.ModTime().After(ai.ModTime()), nil
}

func (p *pkgbuild) getDepends(list []string) map[string][]Restriction {
	deps := make(map[string][]Restriction)
	for _, tok := range list {
		name, r := ParseRestriction(tok)
		if r == nil {
			if _, ok := deps[name]; !ok {
				deps[name] = nil
			}
			continue
		}
		dup := false
		for _, have := range deps[name] {
			if have == *r {
				dup = true
				break
			}
		}
		if !dup {
			deps[name] = append(deps[name], *r)
		}
	}
	return deps
}

func (p *pkgbuild) dependsMap() map[string][]Restriction {
	if p.depends == nil {
		info, err := p.Srcinfo()
		if err != nil {
			debugf("%s: depends unavailable: %v\n", p.name, err)
			p.depends = map[string][]Restriction{}
		} else {
			p.depends = p.getDepends(info.Depends)
		}
	}
	return p.depends
}

func (p *pkgbuild) makedependsMap() map[string][]Restriction {
	if p.makedepends == nil {
		info, err := p.Srcinfo()
		if err != nil {
			debugf("%s: makedepends unavailable: %v\n", p.name, err)
			p.makedepends = map[string][]Restriction{}
		} else {
			p.makedepends = p.getDepends(info.Makedepends)
		}
	}
	return p.makedepends
}

// DependencyType classifies a declared dependency as "depends" or
// "makedepends"; unknown names return "".
func (p *pkgbuild) DependencyType(name string) string {
	if _, ok := p.dependsMap()[name]; ok {
		return "depends"
	}
	if _, ok := p.makedependsMap()[name]; ok {
		return "makedepends"
	}
	return ""
}

// DependencyRestrictions returns the version restrictions declared for a
// dependency, consulting depends before makedepends.
func (p *pkgbuild) DependencyRestrictions(name string) []Restriction {
	if rs, ok := p.dependsMap()[name]; ok {
		return rs
	}
	if rs, ok := p.makedependsMap()[name]; ok {
		return rs
	}
	return nil
}

// localOrigin mirrors a directory of a local PKGBUILD tree into the build
// directory.
type localOrigin struct {
	dir string
}

func (o localOrigin) sync(p *pkgbuild, _ bool) (bool, error) {
	changed, err := treeChanged(o.dir, p.buildDir)
	if err != nil {
		return false, err
	}
	if err := synctree(o.dir, p.buildDir); err != nil {
		return false, err
	}
	return changed, nil
}

// treeChanged reports whether mirroring src into dst would alter dst.
func treeChanged(src, dst string) (bool, error) {
	if !dirExists(dst) {
		return true, nil
	}
	changed := false
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil || changed {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." || d.IsDir() {
			return nil
		}
		ok, err := isNewer(filepath.Join(dst, rel), path)
		if err != nil || !ok {
			changed = true
		}
		return nil
	})
	return changed, err
}

// NewLocalPkgbuild wraps a directory containing a PKGBUILD.
func NewLocalPkgbuild(name, dir, makepkgConf string) *pkgbuild {
	return newPkgbuild(name, "local", "file://"+dir, makepkgConf,
		localOrigin{dir: dir})
}

// registryOrigin fetches the PKGBUILD from the package registry, either as
// a snapshot tarball or by cloning the package's git repository.
type registryOrigin struct {
	pkg *RegistryPackage
}

func (o registryOrigin) sync(p *pkgbuild, force bool) (bool, error) {
	if RegistryMode == "git" {
		return o.pkg.CloneOrPull(p.buildDir)
	}
	// Snapshots carry no freshness marker; re-extract only when forced
	// or when the build directory is missing.
	if dirExists(p.buildDir) && !force {
		return false, nil
	}
	if err := o.pkg.Download(p.buildDir); err != nil {
		return false, err
	}
	return true, nil
}

// NewRegistryPkgbuild wraps a package fetched from the registry.
func NewRegistryPkgbuild(pkg *RegistryPackage, makepkgConf string) *pkgbuild {
	return newPkgbuild(pkg.Name, "registry", pkg.GitURL, makepkgConf,
		registryOrigin{pkg: pkg})
}
