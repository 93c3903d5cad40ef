package mizar

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// archiveURL is the historical package archive used by SetDate.
const archiveURL = "https://archive.archlinux.org/repos"

// Mirrorlist manages the pacman mirrorlist inside a chroot, so builds can
// be pinned to a specific mirror or to the package archive of a past date.
type Mirrorlist struct {
	chroot  *Chroot
	Path    string
	Mirrors []string
}

func NewMirrorlist(c *Chroot) *Mirrorlist {
	return &Mirrorlist{
		chroot: c,
		Path:   filepath.Join(c.Root, "etc/pacman.d/mirrorlist"),
	}
}

func (m *Mirrorlist) String() string {
	lines := make([]string, len(m.Mirrors))
	for i, mirror := range m.Mirrors {
		lines[i] = "Server = " + mirror
	}
	return strings.Join(lines, "\n")
}

// Read loads the mirrors from the chroot's mirrorlist file.
func (m *Mirrorlist) Read() ([]string, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("read mirrorlist: %w", err)
	}
	m.Mirrors = nil
	for _, line := range strings.Split(string(data), "\n") {
		if url, ok := strings.CutPrefix(strings.TrimSpace(line), "Server = "); ok {
			m.Mirrors = append(m.Mirrors, url)
		}
	}
	return m.Mirrors, nil
}

// Write replaces the chroot's mirrorlist with the current mirror set and
// refreshes the chroot's databases. The chroot is root-owned, so the file
// goes through the root executor.
func (m *Mirrorlist) Write() error {
	cmd := exec.Command("tee", m.Path)
	cmd.Stdin = strings.NewReader(m.String() + "\n")
	cmd.Stdout = io.Discard
	if err := RootExec.Run(cmd); err != nil {
		return fmt.Errorf("write mirrorlist: %w", err)
	}
	return m.chroot.Refresh()
}

// Copy installs the given mirrorlist file into the chroot and refreshes.
func (m *Mirrorlist) Copy(path string) error {
	if path == "" {
		path = "/etc/pacman.d/mirrorlist"
	}
	if err := RootExec.Run(exec.Command("cp", path, m.Path)); err != nil {
		return fmt.Errorf("copy mirrorlist: %w", err)
	}
	if err := m.chroot.Refresh(); err != nil {
		return err
	}
	_, err := m.Read()
	return err
}

// Set makes the given mirror the chroot's only mirror.
func (m *Mirrorlist) Set(mirror string, write bool) error {
	m.Mirrors = []string{mirror}
	if write {
		return m.Write()
	}
	return nil
}

// Add appends a mirror to the chroot's mirrorlist.
func (m *Mirrorlist) Add(mirror string, write bool) error {
	m.Mirrors = append(m.Mirrors, mirror)
	if write {
		return m.Write()
	}
	return nil
}

// SetDate pins the chroot to the package archive of the given date and
// returns the resulting mirror URL.
func (m *Mirrorlist) SetDate(date time.Time, write bool) (string, error) {
	mirror := fmt.Sprintf("%s/%s/$repo/os/$arch", archiveURL, date.Format("2006/01/02"))
	return mirror, m.Set(mirror, write)
}
