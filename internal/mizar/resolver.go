package mizar

import (
	"fmt"
	"path/filepath"
)

// sourceResolver turns a package name or path into a buildable source.
type sourceResolver interface {
	Resolve(name string, source Source) (BuildSource, error)
}

// Resolver resolves names against the local PKGBUILD tree first, then the
// registry, honoring the requested Source.
type Resolver struct {
	LocalPath   string
	MakepkgConf string
	Registry    *Registry
}

func NewResolver(localPath, makepkgConf string, registry *Registry) *Resolver {
	return &Resolver{
		LocalPath:   localPath,
		MakepkgConf: makepkgConf,
		Registry:    registry,
	}
}

// Resolve locates a PKGBUILD for name. A name that is an existing path is
// used directly; otherwise the local tree is consulted, then the registry.
// A directory that exists without a PKGBUILD is an error rather than a
// fall-through, so typos inside the local tree surface early.
func (r *Resolver) Resolve(name string, source Source) (BuildSource, error) {
	dir := ""
	if fileExists(name) {
		abs, err := filepath.Abs(name)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", name, err)
		}
		dir = abs
		name = filepath.Base(abs)
	} else if r.LocalPath != "" {
		dir = filepath.Join(r.LocalPath, name)
	}

	if dir != "" {
		if dirExists(dir) {
			if !fileExists(filepath.Join(dir, "PKGBUILD")) {
				return nil, &NoPkgbuildError{Dir: dir}
			}
		} else {
			dir = ""
		}
	}

	if dir != "" && source != SourceRegistry {
		return NewLocalPkgbuild(name, dir, r.MakepkgConf), nil
	}
	if source == SourceLocal {
		return nil, &SourceNotFoundError{Name: name, Source: SourceLocal}
	}

	pkg, err := r.Registry.GetPackage(name)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	if pkg == nil {
		return nil, &SourceNotFoundError{Name: name, Source: SourceRegistry}
	}
	return NewRegistryPkgbuild(pkg, r.MakepkgConf), nil
}
