package mizar

import (
	"fmt"
	"strings"
)

// Builder drives the recursive build of one package. It owns the resolved
// build source and the manifest for that package; child builders for
// discovered dependencies share the provider index, resolver, and build
// environment but keep their own manifests.
type Builder struct {
	*Manifest

	name        string
	pacmanConf  string
	makepkgConf string
	localDir    *LocalDir
	resolver    sourceResolver
	env         BuildEnv
	pkgbuild    BuildSource
}

// BuilderOptions wires a Builder to its collaborators.
type BuilderOptions struct {
	PacmanConf  string
	MakepkgConf string
	LocalDir    *LocalDir
	Resolver    sourceResolver
	Env         BuildEnv
	Source      Source
}

// NewBuilder resolves name to a build source and prepares an empty
// manifest for it. Resolution errors are returned as-is so callers can
// distinguish a missing PKGBUILD from an unknown name.
func NewBuilder(name string, opt BuilderOptions) (*Builder, error) {
	b := &Builder{
		name:        name,
		pacmanConf:  opt.PacmanConf,
		makepkgConf: opt.MakepkgConf,
		localDir:    opt.LocalDir,
		resolver:    opt.Resolver,
		env:         opt.Env,
	}
	if b.localDir != nil {
		if err := b.localDir.Update(false); err != nil {
			return nil, err
		}
	}
	src, err := b.resolver.Resolve(name, opt.Source)
	if err != nil {
		return nil, err
	}
	b.pkgbuild = src
	b.Manifest = NewManifest(name, src.BuildDir())
	return b, nil
}

// child creates a builder for a discovered dependency. Dependencies are
// resolved through the provider index under the declaring package's
// version restrictions; the first matching provider wins.
func (b *Builder) child(name string, restrictions []Restriction) (*Builder, error) {
	srcs, err := b.localDir.Providers(name, restrictions)
	if err != nil {
		return nil, err
	}
	src := srcs[0]
	c := &Builder{
		name:        name,
		pacmanConf:  b.pacmanConf,
		makepkgConf: b.makepkgConf,
		localDir:    b.localDir,
		resolver:    b.resolver,
		env:         b.env,
		pkgbuild:    src,
	}
	c.Manifest = NewManifest(name, src.BuildDir())
	return c, nil
}

// Pkgbuild exposes the resolved build source.
func (b *Builder) Pkgbuild() BuildSource { return b.pkgbuild }

// missingTarget extracts the dependency token from a build-tool failure
// line of the form "error: target not found: <name>[<op><version>]".
func missingTarget(line string) (string, bool) {
	fields := strings.SplitN(strings.TrimSpace(line), ": ", 3)
	if len(fields) != 3 || fields[0] != "error" || fields[1] != "target not found" {
		return "", false
	}
	return fields[2], true
}

// build is the recursive core. Dependency discovery happens only on the
// first failed attempt: every "target not found" line from that failure
// is resolved and built depth-first, then exactly one retry runs with the
// accumulated dependency artifacts available. A failure on the retry is
// terminal and yields an empty set.
func (b *Builder) build(rebuild, attempt int) (stringSet, error) {
	if attempt == 1 {
		if rebuild > 0 {
			colArrow.Print("-> ")
			colInfo.Printf("%s: rebuilding\n", b.name)
		} else if b.Load() && b.Verify(nil) {
			colArrow.Print("-> ")
			colSuccess.Printf("%s: already built\n", b.name)
			return b.AllPackages(), nil
		} else {
			b.Reset()
		}
	}

	colArrow.Print("-> ")
	colInfo.Printf("%s: building [pass %d]\n", b.name, attempt)
	res, err := b.env.Makepkg(b.pkgbuild, b.BuildDepends().Sorted())
	if err != nil {
		return nil, fmt.Errorf("%s: build environment: %w", b.name, err)
	}

	if res.ExitCode == 0 {
		pkgs, err := b.pkgbuild.Packagelist()
		if err != nil {
			return nil, err
		}
		b.Packages.Add(pkgs...)
		if b.Verify(nil) {
			if err := b.Save(); err != nil {
				return nil, err
			}
			return b.AllPackages(), nil
		}
		// Artifacts missing after a successful exit is a failure; fall
		// through to the terminal return without another attempt.
	} else if attempt == 1 {
		for _, line := range res.Stdout {
			token, ok := missingTarget(line)
			if !ok {
				continue
			}
			dep, _ := ParseRestriction(token)
			kind := b.pkgbuild.DependencyType(dep)
			colArrow.Print("-> ")
			colInfo.Printf("%s: missing %s: %s\n", b.name, depKind(kind), dep)

			child, err := b.child(dep, b.pkgbuild.DependencyRestrictions(dep))
			if err != nil {
				return nil, err
			}
			childRebuild := rebuild - 1
			if childRebuild < 0 {
				childRebuild = 0
			}
			if _, err := child.build(childRebuild, 1); err != nil {
				return nil, err
			}
			if kind == "depends" {
				b.Depends.Add(child.Packages.Sorted()...)
			} else {
				b.Makedepends.Add(child.Packages.Sorted()...)
			}
		}
		if len(b.BuildDepends()) > 0 {
			return b.build(rebuild, attempt+1)
		}
	}

	return newStringSet(), nil
}

func depKind(kind string) string {
	if kind == "" {
		return "makedepends"
	}
	return kind
}

// Build builds the package and its discovered dependencies, returning the
// paths of every produced artifact. Pass rebuild=1 to force a rebuild of
// the package, rebuild=2 to also rebuild its dependencies.
func (b *Builder) Build(rebuild int) ([]string, error) {
	set, err := b.build(rebuild, 1)
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%s: %w", b.name, errBuildFailed)
	}
	return set.Sorted(), nil
}

// Install installs the built packages, building first when needed. With
// repo set, artifacts are published to that local repository and installed
// from it by name instead of from the raw package files.
func (b *Builder) Install(reinstall bool, sysroot, repo string, confirm bool) error {
	if len(b.RuntimePackages()) == 0 {
		if _, err := b.Build(0); err != nil {
			return err
		}
	}
	if repo != "" {
		localRepo, err := GetRepo(repo, b.pacmanConf)
		if err != nil {
			return err
		}
		if err := localRepo.Add(b.Manifest); err != nil {
			return err
		}
		args := []string{"-Sy"}
		if b.pacmanConf != "" {
			args = append(args, "--config", b.pacmanConf)
		}
		args = append(args, b.name)
		return runPacman(args, confirm)
	}
	return b.Manifest.Install(reinstall, b.pacmanConf, sysroot, confirm)
}
