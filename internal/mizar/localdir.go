package mizar

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProviderNotFoundError is returned when no local PKGBUILD provides a
// package under the given version restrictions.
type ProviderNotFoundError struct {
	Name         string
	Restrictions []Restriction
}

func (e *ProviderNotFoundError) Error() string {
	if len(e.Restrictions) == 0 {
		return fmt.Sprintf("provider for %s not found", e.Name)
	}
	parts := make([]string, len(e.Restrictions))
	for i := range e.Restrictions {
		parts[i] = e.Restrictions[i].String()
	}
	return fmt.Sprintf("provider for %s not found (restrictions: %s)",
		e.Name, strings.Join(parts, ", "))
}

// localProvider is one (name, version) pair a local PKGBUILD provides.
type localProvider struct {
	Name    string
	Version string
	Sources []BuildSource
}

// LocalDir indexes a directory of local PKGBUILD subdirectories by the
// package names they provide. The index is built lazily on first use and
// kept in discovery order, so provider lookups are deterministic.
type LocalDir struct {
	Path        string
	makepkgConf string
	checkUpdate bool
	providers   []localProvider
}

func NewLocalDir(path, makepkgConf string) *LocalDir {
	return &LocalDir{
		Path:        path,
		makepkgConf: makepkgConf,
		checkUpdate: true,
	}
}

// Refresh marks the index stale so the next Update rescans the directory.
func (d *LocalDir) Refresh() {
	d.checkUpdate = true
}

func (d *LocalDir) addProvider(name, version string, src BuildSource) {
	for i := range d.providers {
		if d.providers[i].Name == name && d.providers[i].Version == version {
			d.providers[i].Sources = append(d.providers[i].Sources, src)
			return
		}
	}
	d.providers = append(d.providers, localProvider{
		Name:    name,
		Version: version,
		Sources: []BuildSource{src},
	})
}

// Update scans the directory and rebuilds the provider index. Entries
// without a PKGBUILD or with unparseable metadata are skipped, not fatal.
// The scan runs at most once per run unless forced.
func (d *LocalDir) Update(force bool) error {
	if d.Path == "" {
		return nil
	}
	if !d.checkUpdate && !force {
		return nil
	}
	d.providers = nil

	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return fmt.Errorf("scan %s: %w", d.Path, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(d.Path, entry.Name())
		if !fileExists(filepath.Join(dir, "PKGBUILD")) {
			continue
		}
		src := NewLocalPkgbuild(entry.Name(), dir, d.makepkgConf)
		info, err := src.Srcinfo()
		if err != nil {
			colWarn.Printf("skipping %s: %v\n", entry.Name(), err)
			continue
		}
		if len(info.Provides) > 0 {
			for _, prov := range info.Provides {
				name, version, ok := strings.Cut(prov, "=")
				if !ok {
					version = info.Pkgver
				}
				d.addProvider(name, version, src)
			}
		} else {
			d.addProvider(info.Pkgbase, info.Pkgver, src)
		}
	}

	d.checkUpdate = false
	return nil
}

// Providers returns the local sources providing name under the given
// version restrictions. The first provider entry that satisfies every
// restriction wins.
func (d *LocalDir) Providers(name string, restrictions []Restriction) ([]BuildSource, error) {
	if err := d.Update(false); err != nil {
		return nil, err
	}
	notFound := &ProviderNotFoundError{Name: name, Restrictions: restrictions}
	if d.Path == "" || len(d.providers) == 0 {
		return nil, notFound
	}
	for i := range d.providers {
		p := &d.providers[i]
		if p.Name == name && SatisfiesAll(p.Version, restrictions) {
			return p.Sources, nil
		}
	}
	return nil, notFound
}
