package mizar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// manifestName is the per-build-directory manifest file.
const manifestName = "build.json"

// Manifest records the artifacts a build produced: the package's own
// artifacts plus the runtime and build-only dependency artifacts pulled in
// along the way. It lives in the package's build directory and lets a
// later run skip the build entirely when everything still verifies.
type Manifest struct {
	Name     string
	BuildDir string

	Packages    stringSet
	Depends     stringSet
	Makedepends stringSet
	B3sums      map[string]string
}

// manifestFile is the on-disk JSON shape. Slice fields are pointers so a
// structurally incomplete file is distinguishable from an empty one.
type manifestFile struct {
	Name        string            `json:"name"`
	Timestamp   int64             `json:"timestamp"`
	Packages    *[]string         `json:"packages"`
	Depends     *[]string         `json:"depends"`
	Makedepends *[]string         `json:"makedepends"`
	B3sums      map[string]string `json:"b3sums,omitempty"`
}

func NewManifest(name, buildDir string) *Manifest {
	m := &Manifest{Name: name, BuildDir: buildDir}
	m.Reset()
	return m
}

func (m *Manifest) filePath() string {
	return filepath.Join(m.BuildDir, manifestName)
}

// Exists reports whether the manifest file is on disk.
func (m *Manifest) Exists() bool {
	return fileExists(m.filePath())
}

// Reset drops all tracked packages and dependencies.
func (m *Manifest) Reset() {
	m.Packages = newStringSet()
	m.Depends = newStringSet()
	m.Makedepends = newStringSet()
	m.B3sums = nil
}

// AllPackages is every artifact this build touched, dependencies included.
func (m *Manifest) AllPackages() stringSet {
	return union(m.Packages, m.Depends, m.Makedepends)
}

// BuildDepends is the artifact set installed into the build environment.
func (m *Manifest) BuildDepends() stringSet {
	return union(m.Depends, m.Makedepends)
}

// RuntimePackages is the set that ends up installed on the target system.
func (m *Manifest) RuntimePackages() stringSet {
	return union(m.Packages, m.Depends)
}

// Verify checks that every path in the given set exists on disk; a nil set
// means the runtime packages. It never mutates the manifest.
func (m *Manifest) Verify(paths stringSet) bool {
	if paths == nil {
		paths = m.RuntimePackages()
	}
	for p := range paths {
		if !fileExists(p) {
			return false
		}
	}
	return true
}

// Save writes the manifest file, recording a BLAKE3 checksum for every
// artifact that can be read. Checksum failures are logged, not fatal: the
// authoritative record is the path sets.
func (m *Manifest) Save() error {
	sums := make(map[string]string)
	for p := range m.AllPackages() {
		sum, err := hashFile(p)
		if err != nil {
			debugf("manifest %s: checksum %s: %v\n", m.Name, p, err)
			continue
		}
		sums[p] = sum
	}
	m.B3sums = sums

	pkgs := m.Packages.Sorted()
	deps := m.Depends.Sorted()
	mdeps := m.Makedepends.Sorted()
	out := manifestFile{
		Name:        m.Name,
		Timestamp:   time.Now().Unix(),
		Packages:    &pkgs,
		Depends:     &deps,
		Makedepends: &mdeps,
		B3sums:      sums,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest %s: encode: %w", m.Name, err)
	}
	if err := os.WriteFile(m.filePath(), data, 0o644); err != nil {
		return fmt.Errorf("manifest %s: write: %w", m.Name, err)
	}
	return nil
}

// Load reads the manifest file and populates the path sets. A missing or
// malformed file is a cache miss, not an error: it logs a warning and
// reports false so the caller resets and rebuilds.
func (m *Manifest) Load() bool {
	data, err := os.ReadFile(m.filePath())
	if err != nil {
		return false
	}
	var in manifestFile
	if err := json.Unmarshal(data, &in); err != nil {
		colWarn.Printf("found malformed manifest: %v\n", err)
		return false
	}
	if in.Name == "" || in.Packages == nil || in.Depends == nil || in.Makedepends == nil {
		colWarn.Printf("found malformed manifest: %s\n", m.filePath())
		return false
	}
	m.Name = in.Name
	m.Packages = newStringSet(*in.Packages...)
	m.Depends = newStringSet(*in.Depends...)
	m.Makedepends = newStringSet(*in.Makedepends...)
	m.B3sums = in.B3sums
	return true
}

// Install hands the manifest's artifacts to pacman: dependencies first in
// one --asdeps batch, then the primary packages, so the primary install
// can reference the freshly installed dependencies.
func (m *Manifest) Install(reinstall bool, pacmanConf, sysroot string, confirm bool) error {
	args := []string{"-U"}
	if !reinstall {
		args = append(args, "--needed")
	}
	if pacmanConf != "" {
		args = append(args, "--config", pacmanConf)
	}
	if sysroot != "" {
		args = append(args, "--sysroot", sysroot)
	}

	if len(m.Depends) > 0 {
		deps := append(append([]string{}, args...), "--asdeps")
		deps = append(deps, m.Depends.Sorted()...)
		if err := runPacman(deps, confirm); err != nil {
			return fmt.Errorf("install %s dependencies: %w", m.Name, err)
		}
	}
	pkgs := append(args, m.Packages.Sorted()...)
	if err := runPacman(pkgs, confirm); err != nil {
		return fmt.Errorf("install %s: %w", m.Name, err)
	}
	return nil
}

func union(sets ...stringSet) stringSet {
	out := newStringSet()
	for _, s := range sets {
		for it := range s {
			out[it] = struct{}{}
		}
	}
	return out
}
