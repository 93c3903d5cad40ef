package mizar

import (
	"archive/tar"
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// runPacman invokes pacman as root. With confirm false the prompts are
// answered "y" automatically; with confirm true pacman talks to the TTY.
func runPacman(args []string, confirm bool) error {
	cmd := exec.Command("pacman", args...)
	exe := &Executor{
		Context:         RootExec.Context,
		ShouldRunAsRoot: true,
		Interactive:     confirm,
	}
	if !confirm {
		cmd.Stdin = yesReader{}
	}

	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)
	return exe.Run(cmd)
}

// pacmanConfRepoServer resolves a repository name to its Server line via
// pacman-conf. Returns the raw Server value, usually a file:// or https
// URL.
func pacmanConfRepoServer(name, pacmanConf string) (string, error) {
	args := []string{"-r", name}
	if pacmanConf != "" {
		args = append(args, "--config", pacmanConf)
	}
	out, err := exec.Command("pacman-conf", args...).Output()
	if err != nil {
		return "", fmt.Errorf("pacman-conf -r %s: %w", name, err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if server, ok := strings.CutPrefix(strings.TrimSpace(line), "Server = "); ok {
			return server, nil
		}
	}
	return "", fmt.Errorf("repository %s has no Server entry", name)
}

// pkgInfo is the identity block of a built package archive.
type pkgInfo struct {
	Name    string
	Version string
	Arch    string
}

// readPkgInfo extracts the .PKGINFO identity from a .pkg.tar.zst archive.
func readPkgInfo(path string) (*pkgInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd reader for %s: %w", path, err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if hdr.Name != ".PKGINFO" {
			continue
		}
		info := &pkgInfo{}
		scanner := bufio.NewScanner(tr)
		for scanner.Scan() {
			key, val, ok := strings.Cut(scanner.Text(), "=")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			val = strings.TrimSpace(val)
			switch key {
			case "pkgname":
				info.Name = val
			case "pkgver":
				info.Version = val
			case "arch":
				info.Arch = val
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read .PKGINFO in %s: %w", path, err)
		}
		if info.Name == "" {
			return nil, fmt.Errorf("%s: .PKGINFO without pkgname", path)
		}
		return info, nil
	}
	return nil, fmt.Errorf("%s: no .PKGINFO entry", path)
}
