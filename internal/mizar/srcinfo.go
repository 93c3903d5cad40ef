package mizar

import (
	"bufio"
	"fmt"
	"strings"
)

// Srcinfo holds the fields of interest from makepkg --printsrcinfo output.
// Only the pkgbase-level values participate in dependency resolution;
// per-pkgname override sections contribute just the package names.
type Srcinfo struct {
	Pkgbase     string
	Pkgver      string
	Pkgrel      string
	Epoch       string
	Pkgnames    []string
	Depends     []string
	Makedepends []string
	Provides    []string
}

// parseSrcinfo parses the "key = value" line format written by makepkg.
// Indentation is not significant; a pkgname line opens a per-package
// section whose attributes are ignored apart from the name itself.
func parseSrcinfo(text string) (*Srcinfo, error) {
	info := &Srcinfo{}
	inPackage := false

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("srcinfo: malformed line %q", line)
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		switch key {
		case "pkgbase":
			info.Pkgbase = val
			inPackage = false
			continue
		case "pkgname":
			info.Pkgnames = append(info.Pkgnames, val)
			inPackage = true
			continue
		}
		if inPackage {
			continue
		}
		switch key {
		case "pkgver":
			info.Pkgver = val
		case "pkgrel":
			info.Pkgrel = val
		case "epoch":
			info.Epoch = val
		case "depends":
			info.Depends = append(info.Depends, val)
		case "makedepends":
			info.Makedepends = append(info.Makedepends, val)
		case "provides":
			info.Provides = append(info.Provides, val)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("srcinfo: %w", err)
	}
	if info.Pkgbase == "" {
		return nil, fmt.Errorf("srcinfo: missing pkgbase")
	}
	return info, nil
}

// Version renders the full package version including epoch and pkgrel.
func (s *Srcinfo) Version() string {
	v := s.Pkgver
	if s.Epoch != "" {
		v = s.Epoch + ":" + v
	}
	if s.Pkgrel != "" {
		v = v + "-" + s.Pkgrel
	}
	return v
}
