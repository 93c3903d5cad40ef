package mizar

import (
	"bufio"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Load /etc/mizar.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge MIZAR_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge MIZAR_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "MIZAR_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	// MIZAR_ROOT relocates every default path, for testing against an
	// alternative root.
	rootDir = cfg.Values["MIZAR_ROOT"]
	if rootDir == "" {
		rootDir = "/"
	}

	BuildRoot = cfg.Values["MIZAR_BUILD_ROOT"]
	if BuildRoot == "" {
		BuildRoot = filepath.Join(rootDir, "var/cache/mizar/builds")
	}

	ChrootDir = cfg.Values["MIZAR_CHROOT"]
	if ChrootDir == "" {
		ChrootDir = filepath.Join(rootDir, "var/cache/mizar/chroot")
	}

	LocalPath = cfg.Values["MIZAR_PATH"]
	if LocalPath == "" {
		log.Printf("Warning: MIZAR_PATH is not set")
	}

	PacmanConf = cfg.Values["MIZAR_PACMAN_CONF"]
	if PacmanConf == "" {
		PacmanConf = "/etc/pacman.conf"
	}

	MakepkgConf = cfg.Values["MIZAR_MAKEPKG_CONF"]
	if MakepkgConf == "" {
		MakepkgConf = "/etc/makepkg.conf"
	}

	RegistryURL = cfg.Values["MIZAR_REGISTRY"]
	if RegistryURL == "" {
		RegistryURL = "https://aur.archlinux.org"
	}
	RegistryURL = strings.TrimRight(RegistryURL, "/")

	RegistryMode = cfg.Values["MIZAR_REGISTRY_FETCH"]
	if RegistryMode != "git" {
		RegistryMode = "snapshot"
	}

	WantDebug := cfg.Values["MIZAR_DEBUG"]
	Debug = false
	if WantDebug == "1" {
		Debug = true
	}

	// Optional S3-compatible snapshot mirror
	MirrorBucket = cfg.Values["MIZAR_MIRROR_BUCKET"]
	MirrorEndpoint = cfg.Values["MIZAR_MIRROR_ENDPOINT"]
	MirrorRegion = cfg.Values["MIZAR_MIRROR_REGION"]
	if MirrorRegion == "" {
		MirrorRegion = "auto"
	}
	MirrorPrefix = strings.Trim(cfg.Values["MIZAR_MIRROR_PREFIX"], "/")

	SnapshotDir = filepath.Join(BuildRoot, "_snapshots")
}
