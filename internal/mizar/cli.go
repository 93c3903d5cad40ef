package mizar

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: mizar <command> [arguments]")
	colSuccess.Println("Run 'mizar <command> -h' for command options")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"version, --version", "", "Version information"},
		{"build, b", "[options] <pkg>...", "Build package(s) and their dependencies"},
		{"install, i", "[options] <pkg>...", "Build and install package(s)"},
		{"remove, r", "<pkg>...", "Remove package build directories"},
		{"providers, p", "<name>[<op><ver>]", "List local providers for a name"},
		{"chroot", "<action>", "Manage the build chroot (make/update/remove/refresh/mirror/date)"},
		{"upload", "<pkg>...", "Upload built packages to the configured mirror"},
	}

	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	for _, c := range cmds {
		usage := c.Cmd
		if c.Args != "" {
			usage += " " + c.Args
		}
		fmt.Printf("  %-*s  %s\n", maxLen, usage, c.Desc)
	}
}

// die prints the single-line error contract and exits non-zero.
func die(message string, detail any) {
	fmt.Fprintf(os.Stderr, "ERROR: %s: %v\n", message, detail)
	os.Exit(1)
}

// dieErr maps typed errors onto the error line format.
func dieErr(err error) {
	var noPkgbuild *NoPkgbuildError
	var notFound *SourceNotFoundError
	var noProvider *ProviderNotFoundError
	switch {
	case errors.As(err, &noPkgbuild):
		die("directory does not contain a PKGBUILD file", noPkgbuild.Dir)
	case errors.As(err, &notFound):
		die("source not found", fmt.Sprintf("%s (%s)", notFound.Name, notFound.Source))
	case errors.As(err, &noProvider):
		die("provider not found", noProvider.Error())
	default:
		die("build failed", err)
	}
}

// runtime wiring shared by the package-level subcommands.
type cliEnv struct {
	localDir *LocalDir
	resolver *Resolver
	chroot   *Chroot
}

func newCliEnv(localPath string) *cliEnv {
	return &cliEnv{
		localDir: NewLocalDir(localPath, MakepkgConf),
		resolver: NewResolver(localPath, MakepkgConf, NewRegistry(RegistryURL)),
		chroot:   NewChroot(ChrootDir),
	}
}

func (e *cliEnv) builderOptions(source Source) BuilderOptions {
	return BuilderOptions{
		PacmanConf:  PacmanConf,
		MakepkgConf: MakepkgConf,
		LocalDir:    e.localDir,
		Resolver:    e.resolver,
		Env:         e.chroot,
		Source:      source,
	}
}

// defaultLocalPath mirrors the historical working-directory heuristic:
// with no configured tree, names are resolved against the current
// directory, or against its parent when building the directory itself.
func defaultLocalPath(names []string) string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	if len(names) > 0 && names[0] != "." {
		return cwd
	}
	return filepath.Dir(cwd)
}

func sourceFromFlags(localOnly, registryOnly bool) Source {
	switch {
	case localOnly:
		return SourceLocal
	case registryOnly:
		return SourceRegistry
	}
	return SourceEither
}

func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					colArrow.Print("\n-> ")
					colError.Printf("Critical operation in progress. Press Ctrl+C AGAIN to force exit NOW.\n")
					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						colError.Printf("Forced immediate exit.")
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				} else {
					colArrow.Print("\n-> ")
					color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
					cancel()
					time.Sleep(100 * time.Millisecond)
					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						color.Danger.Printf("Second interrupt received. Forcing immediate exit.")
						os.Exit(130)
					case <-time.After(2 * time.Second):
						colArrow.Print("\n-> ")
						color.Danger.Printf("Graceful shutdown timeout. Exiting.")
						os.Exit(0)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if ctx.Err() != nil {
		return
	}
	if len(os.Args) < 2 {
		printHelp()
		return
	}

	configPath := ConfigFile
	if root := os.Getenv("MIZAR_ROOT"); root != "" {
		configPath = filepath.Join(root, "etc", "mizar.conf")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read %s: %v\n", configPath, err)
	}
	initConfig(cfg)

	UserExec = &Executor{Context: ctx, ShouldRunAsRoot: false}
	RootExec = &Executor{Context: ctx, ShouldRunAsRoot: true}

	if MirrorBucket != "" {
		store, err := NewMirrorStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: mirror disabled: %v\n", err)
		} else {
			activeMirror = store
		}
	}

	switch os.Args[1] {
	case "version", "--version":
		colSuccess.Printf("mizar %s (built %s)\n", version, buildDate)

	case "build", "b":
		buildCmd := flag.NewFlagSet("build", flag.ExitOnError)
		localPath := buildCmd.String("d", "", "path to directory of local PKGBUILDs")
		localOnly := buildCmd.Bool("local", false, "resolve from the local tree only")
		registryOnly := buildCmd.Bool("registry", false, "resolve from the registry only")
		rebuild := buildCmd.Bool("f", false, "rebuild even if already built")
		rebuildDeps := buildCmd.Bool("F", false, "also rebuild dependencies")
		install := buildCmd.Bool("i", false, "install packages after building")
		reinstall := buildCmd.Bool("I", false, "reinstall packages after building")
		repo := buildCmd.String("repo", "", "install via this local repository")
		sysroot := buildCmd.String("sysroot", "", "alternative system root for install")
		confirm := buildCmd.Bool("confirm", false, "let pacman prompt instead of assuming yes")
		buildCmd.Parse(os.Args[2:])
		runBuild(buildCmd.Args(), buildFlags{
			localPath:    *localPath,
			localOnly:    *localOnly,
			registryOnly: *registryOnly,
			rebuild:      rebuildLevel(*rebuild, *rebuildDeps),
			install:      *install,
			reinstall:    *reinstall,
			repo:         *repo,
			sysroot:      *sysroot,
			confirm:      *confirm,
		})

	case "install", "i":
		installCmd := flag.NewFlagSet("install", flag.ExitOnError)
		localPath := installCmd.String("d", "", "path to directory of local PKGBUILDs")
		localOnly := installCmd.Bool("local", false, "resolve from the local tree only")
		registryOnly := installCmd.Bool("registry", false, "resolve from the registry only")
		reinstall := installCmd.Bool("I", false, "reinstall already-installed packages")
		repo := installCmd.String("repo", "", "install via this local repository")
		sysroot := installCmd.String("sysroot", "", "alternative system root")
		confirm := installCmd.Bool("confirm", false, "let pacman prompt instead of assuming yes")
		installCmd.Parse(os.Args[2:])
		runBuild(installCmd.Args(), buildFlags{
			localPath:    *localPath,
			localOnly:    *localOnly,
			registryOnly: *registryOnly,
			install:      true,
			reinstall:    *reinstall,
			repo:         *repo,
			sysroot:      *sysroot,
			confirm:      *confirm,
		})

	case "remove", "r":
		removeCmd := flag.NewFlagSet("remove", flag.ExitOnError)
		localPath := removeCmd.String("d", "", "path to directory of local PKGBUILDs")
		removeCmd.Parse(os.Args[2:])
		runRemove(removeCmd.Args(), *localPath)

	case "providers", "p":
		provCmd := flag.NewFlagSet("providers", flag.ExitOnError)
		localPath := provCmd.String("d", "", "path to directory of local PKGBUILDs")
		refresh := provCmd.Bool("refresh", false, "force a rescan of the local tree")
		provCmd.Parse(os.Args[2:])
		runProviders(provCmd.Args(), *localPath, *refresh)

	case "chroot":
		runChroot(os.Args[2:])

	case "upload":
		uploadCmd := flag.NewFlagSet("upload", flag.ExitOnError)
		localPath := uploadCmd.String("d", "", "path to directory of local PKGBUILDs")
		uploadCmd.Parse(os.Args[2:])
		runUpload(uploadCmd.Args(), *localPath)

	default:
		printHelp()
		os.Exit(2)
	}
}

func rebuildLevel(rebuild, rebuildDeps bool) int {
	switch {
	case rebuildDeps:
		return 2
	case rebuild:
		return 1
	}
	return 0
}

type buildFlags struct {
	localPath    string
	localOnly    bool
	registryOnly bool
	rebuild      int
	install      bool
	reinstall    bool
	repo         string
	sysroot      string
	confirm      bool
}

func resolveLocalPath(flagPath string, names []string) string {
	if flagPath != "" {
		return flagPath
	}
	if LocalPath != "" {
		return LocalPath
	}
	return defaultLocalPath(names)
}

func runBuild(names []string, fl buildFlags) {
	localPath := resolveLocalPath(fl.localPath, names)
	if len(names) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			die("cannot determine working directory", err)
		}
		names = []string{filepath.Base(cwd)}
	}

	env := newCliEnv(localPath)
	source := sourceFromFlags(fl.localOnly, fl.registryOnly)

	for _, name := range names {
		b, err := NewBuilder(name, env.builderOptions(source))
		if err != nil {
			dieErr(err)
		}
		artifacts, err := b.Build(fl.rebuild)
		if err != nil {
			dieErr(err)
		}
		colArrow.Print("-> ")
		colSuccess.Printf("%s: built %d package(s)\n", name, len(artifacts))
		for _, a := range artifacts {
			colNote.Println("   " + a)
		}
		if fl.install || fl.reinstall {
			if err := b.Install(fl.reinstall, fl.sysroot, fl.repo, fl.confirm); err != nil {
				die("install failed", err)
			}
		}
	}
}

func runRemove(names []string, flagPath string) {
	if len(names) == 0 {
		die("no package names given", "remove needs at least one name")
	}
	env := newCliEnv(resolveLocalPath(flagPath, names))
	for _, name := range names {
		b, err := NewBuilder(name, env.builderOptions(SourceEither))
		if err != nil {
			dieErr(err)
		}
		if err := b.Pkgbuild().Remove(); err != nil {
			die("remove failed", err)
		}
	}
}

func runProviders(args []string, flagPath string, refresh bool) {
	if len(args) != 1 {
		die("usage", "providers <name>[<op><version>]")
	}
	env := newCliEnv(resolveLocalPath(flagPath, args))
	if refresh {
		env.localDir.Refresh()
	}
	name, restriction := ParseRestriction(args[0])
	var rs []Restriction
	if restriction != nil {
		rs = []Restriction{*restriction}
	}
	srcs, err := env.localDir.Providers(name, rs)
	if err != nil {
		dieErr(err)
	}
	for _, src := range srcs {
		info, err := src.Srcinfo()
		if err != nil {
			colWarn.Printf("%s: %v\n", src.Name(), err)
			continue
		}
		fmt.Printf("%s %s\t%s\n", info.Pkgbase, info.Version(), src.URI())
	}
}

func runChroot(args []string) {
	if len(args) == 0 {
		die("usage", "chroot <make|update|remove|refresh|mirror URL|date YYYY-MM-DD>")
	}
	c := NewChroot(ChrootDir)
	var err error
	switch args[0] {
	case "make":
		err = c.Make()
	case "update":
		err = c.Update()
	case "remove":
		if confirmPrompt(fmt.Sprintf("remove chroot %s?", c.WorkingDir), false) {
			err = c.Remove()
		}
	case "refresh":
		err = c.Refresh()
	case "mirror":
		if len(args) < 2 {
			die("usage", "chroot mirror <url>")
		}
		err = c.Mirrorlist.Set(args[1], true)
	case "date":
		if len(args) < 2 {
			die("usage", "chroot date <YYYY-MM-DD>")
		}
		var date time.Time
		date, err = time.Parse("2006-01-02", args[1])
		if err == nil {
			var mirror string
			mirror, err = c.Mirrorlist.SetDate(date, true)
			if err == nil {
				colArrow.Print("-> ")
				colInfo.Printf("chroot pinned to %s\n", mirror)
			}
		}
	default:
		die("unknown chroot action", args[0])
	}
	if err != nil {
		die("chroot operation failed", err)
	}
}

func runUpload(names []string, flagPath string) {
	if activeMirror == nil {
		die("mirror not configured", "set MIZAR_MIRROR_BUCKET in "+ConfigFile)
	}
	if len(names) == 0 {
		die("no package names given", "upload needs at least one name")
	}
	env := newCliEnv(resolveLocalPath(flagPath, names))
	for _, name := range names {
		b, err := NewBuilder(name, env.builderOptions(SourceEither))
		if err != nil {
			dieErr(err)
		}
		if !b.Load() || !b.Verify(nil) {
			die("nothing to upload", name+" has no verified build manifest")
		}
		for _, pkg := range b.RuntimePackages().Sorted() {
			colArrow.Print("-> ")
			colInfo.Printf("uploading %s\n", filepath.Base(pkg))
			if err := activeMirror.Upload(UserExec.Context, filepath.Base(pkg), pkg); err != nil {
				die("upload failed", err)
			}
		}
	}
}
