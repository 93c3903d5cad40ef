package mizar

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RepoNotFoundError is returned when pacman's configuration does not
// define a repository with the given name.
type RepoNotFoundError struct {
	Name       string
	PacmanConf string
}

func (e *RepoNotFoundError) Error() string {
	return fmt.Sprintf("repository %s not found in %s", e.Name, e.PacmanConf)
}

// RepoNotLocalError is returned when a repository exists but is not
// backed by a file:// server.
type RepoNotLocalError struct {
	Name string
}

func (e *RepoNotLocalError) Error() string {
	return fmt.Sprintf("repository %s is not local", e.Name)
}

// DatabaseNotFoundError is returned when a repository directory has no
// database file.
type DatabaseNotFoundError struct {
	Name string
	Path string
}

func (e *DatabaseNotFoundError) Error() string {
	return fmt.Sprintf("database for %s repository not found in %s", e.Name, e.Path)
}

// GetRepo resolves a repository name or path to a LocalRepo. Absolute
// paths are used directly; names are looked up through pacman-conf and
// must resolve to a file:// server.
func GetRepo(nameOrPath, pacmanConf string) (*LocalRepo, error) {
	if filepath.IsAbs(nameOrPath) {
		return NewLocalRepo(nameOrPath, "")
	}
	server, err := pacmanConfRepoServer(nameOrPath, pacmanConf)
	if err != nil {
		return nil, &RepoNotFoundError{Name: nameOrPath, PacmanConf: pacmanConf}
	}
	path, ok := strings.CutPrefix(server, "file://")
	if !ok {
		return nil, &RepoNotLocalError{Name: nameOrPath}
	}
	return NewLocalRepo(path, nameOrPath)
}

// LocalRepo is a pacman repository on the local filesystem, addressed by
// the directory holding its database.
type LocalRepo struct {
	Path string
	Name string
	db   string
}

// NewLocalRepo opens a local repository, locating its database file. The
// name defaults to the directory's base name.
func NewLocalRepo(path, name string) (*LocalRepo, error) {
	if name == "" {
		name = filepath.Base(path)
	}
	r := &LocalRepo{Path: path, Name: name}
	db, err := r.findDB()
	if err != nil {
		return nil, err
	}
	r.db = db
	return r, nil
}

func (r *LocalRepo) findDB() (string, error) {
	if !dirExists(r.Path) {
		return "", &DatabaseNotFoundError{Name: r.Name, Path: r.Path}
	}
	matches, err := filepath.Glob(filepath.Join(r.Path, r.Name+".db.tar*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".old") {
			return m, nil
		}
	}
	return "", &DatabaseNotFoundError{Name: r.Name, Path: r.Path}
}

// Add copies a manifest's runtime packages into the repository and
// registers them with repo-add. Nothing happens when the manifest has not
// been persisted yet.
func (r *LocalRepo) Add(m *Manifest) error {
	if !m.Exists() {
		return fmt.Errorf("%s: no manifest to publish", m.Name)
	}
	pkgs := m.RuntimePackages().Sorted()
	for _, pkg := range pkgs {
		if info, err := readPkgInfo(pkg); err == nil {
			colArrow.Print("-> ")
			colInfo.Printf("publishing %s %s to %s\n", info.Name, info.Version, r.Name)
		}
		if err := copyFile(pkg, filepath.Join(r.Path, filepath.Base(pkg))); err != nil {
			return fmt.Errorf("copy %s to repo: %w", pkg, err)
		}
	}
	cmd := exec.Command("repo-add", append([]string{r.db}, pkgs...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("repo-add: %w", err)
	}
	return nil
}
