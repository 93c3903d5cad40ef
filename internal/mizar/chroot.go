package mizar

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// BuildEnv is the isolated environment that turns a build source plus a
// set of pre-built dependency artifacts into packages. On failure its
// stdout carries one "error: target not found: <name>" line per missing
// dependency, which is the only signal the builder uses for discovery.
type BuildEnv interface {
	Makepkg(src BuildSource, deps []string) (*cmdResult, error)
}

// Chroot wraps mkarchroot and makechrootpkg around a working directory.
type Chroot struct {
	WorkingDir string
	Root       string
	Mirrorlist *Mirrorlist
}

func NewChroot(workingDir string) *Chroot {
	c := &Chroot{
		WorkingDir: workingDir,
		Root:       filepath.Join(workingDir, "root"),
	}
	c.Mirrorlist = NewMirrorlist(c)
	return c
}

// Exists reports whether the chroot root has been created.
func (c *Chroot) Exists() bool {
	return dirExists(c.Root)
}

// Make creates the chroot with mkarchroot.
func (c *Chroot) Make() error {
	if err := os.MkdirAll(c.WorkingDir, 0o755); err != nil {
		return fmt.Errorf("create chroot dir: %w", err)
	}
	colArrow.Print("-> ")
	colInfo.Printf("creating chroot [%s]\n", c.Root)
	cmd := exec.Command("mkarchroot", c.Root, "base-devel", "devtools")
	if _, err := runLogged(RootExec, cmd, false); err != nil {
		return fmt.Errorf("mkarchroot: %w", err)
	}
	return nil
}

// Pacman runs pacman with the given flags inside the chroot.
func (c *Chroot) Pacman(flags string) error {
	cmd := exec.Command("arch-nspawn", c.Root, "pacman", flags)
	if _, err := runLogged(RootExec, cmd, false); err != nil {
		return fmt.Errorf("arch-nspawn pacman %s: %w", flags, err)
	}
	return nil
}

// Refresh re-syncs the chroot's pacman databases.
func (c *Chroot) Refresh() error {
	return c.Pacman("-Syy")
}

// Update upgrades the chroot, creating it first when missing.
func (c *Chroot) Update() error {
	if !c.Exists() {
		return c.Make()
	}
	return c.Pacman("-Syuu")
}

// Remove deletes the entire chroot working directory.
func (c *Chroot) Remove() error {
	if !dirExists(c.WorkingDir) {
		return nil
	}
	cmd := exec.Command("rm", "-rf", c.WorkingDir)
	if err := RootExec.Run(cmd); err != nil {
		return fmt.Errorf("remove chroot: %w", err)
	}
	return nil
}

// Makepkg builds the source in the chroot with makechrootpkg, installing
// the given dependency artifacts first. The result carries the exit code
// and both captured output streams; a non-zero exit is not an error here,
// the builder inspects it.
func (c *Chroot) Makepkg(src BuildSource, deps []string) (*cmdResult, error) {
	if !c.Exists() {
		if err := c.Make(); err != nil {
			return nil, err
		}
	}
	if err := src.Update(false); err != nil {
		return nil, err
	}

	args := []string{"-cr", c.WorkingDir}
	for _, d := range deps {
		args = append(args, "-I", d)
	}
	args = append(args, "--", "-s")
	cmd := exec.Command("makechrootpkg", args...)
	cmd.Dir = src.BuildDir()
	return runLogged(RootExec, cmd, false)
}
