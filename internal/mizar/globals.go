package mizar

import (
	"errors"
	"sync/atomic"

	"github.com/gookit/color"
)

// isCriticalAtomic is 1 while an interruption-sensitive phase runs
// (e.g. pacman transactions); the signal handler checks it.
var isCriticalAtomic atomic.Int32

// Global variables
var (
	rootDir      string
	BuildRoot    string // per-package build directories live under here
	ChrootDir    string
	LocalPath    string // tree of local PKGBUILD directories
	PacmanConf   string
	MakepkgConf  string
	RegistryURL  string
	SnapshotDir  string // BuildRoot/_snapshots, download cache for registry tarballs
	RegistryMode string // "snapshot" or "git"
	Debug        bool
	ConfigFile   = "/etc/mizar.conf"

	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time
	// errBuildFailed marks a terminal build failure after the retry pass.
	errBuildFailed = errors.New("build failed")
	// Optional S3-compatible mirror for registry snapshots
	MirrorBucket   string
	MirrorEndpoint string
	MirrorRegion   string
	MirrorPrefix   string
	// Global executors (assigned in Main)
	UserExec *Executor
	RootExec *Executor
)

// color helpers
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
