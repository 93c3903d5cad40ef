package mizar

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
)

// registryInfo is the per-package payload of an RPC v5 info response.
type registryInfo struct {
	Name        string `json:"Name"`
	PackageBase string `json:"PackageBase"`
	Version     string `json:"Version"`
	URLPath     string `json:"URLPath"`
	Description string `json:"Description"`
}

// Registry is a client for an AUR-compatible package registry. Info
// lookups go through the RPC v5 interface and are memoized for the
// lifetime of the client, so one run never asks about a name twice.
type Registry struct {
	URL    string
	client *http.Client
	cache  map[string]*registryInfo
}

func NewRegistry(rawURL string) *Registry {
	return &Registry{
		URL:    strings.TrimRight(rawURL, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
		cache:  make(map[string]*registryInfo),
	}
}

// Infos fetches info for the given names, batching every cache miss into a
// single RPC call.
func (r *Registry) Infos(names ...string) (map[string]*registryInfo, error) {
	res := make(map[string]*registryInfo)
	var missing []string
	for _, name := range names {
		if info, ok := r.cache[name]; ok {
			if info != nil {
				res[name] = info
			}
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return res, nil
	}

	q := url.Values{}
	q.Set("v", "5")
	q.Set("type", "info")
	for _, name := range missing {
		q.Add("arg[]", name)
	}
	rpcURL := r.URL + "/rpc/?" + q.Encode()
	debugf("registry rpc: %s\n", rpcURL)

	resp, err := r.client.Get(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("registry rpc: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry rpc: unexpected status %s", resp.Status)
	}

	var payload struct {
		Results []registryInfo `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("registry rpc: decode: %w", err)
	}

	// Negative results are cached too, as nil entries.
	for _, name := range missing {
		r.cache[name] = nil
	}
	for i := range payload.Results {
		info := payload.Results[i]
		r.cache[info.Name] = &info
		res[info.Name] = &info
	}
	return res, nil
}

// Info returns info for a single package, or nil when the registry does
// not know the name.
func (r *Registry) Info(name string) (*registryInfo, error) {
	infos, err := r.Infos(name)
	if err != nil {
		return nil, err
	}
	return infos[name], nil
}

// GetPackage returns a fetchable RegistryPackage, or nil when the name is
// not in the registry.
func (r *Registry) GetPackage(name string) (*RegistryPackage, error) {
	info, err := r.Info(name)
	if err != nil || info == nil {
		return nil, err
	}
	return &RegistryPackage{
		Name:     info.Name,
		Version:  info.Version,
		SnapURL:  r.URL + info.URLPath,
		GitURL:   r.URL + "/" + info.Name + ".git",
		registry: r,
	}, nil
}

// RegistryPackage is a package known to the registry, fetchable as a
// snapshot tarball or via its git repository.
type RegistryPackage struct {
	Name     string
	Version  string
	SnapURL  string
	GitURL   string
	registry *Registry
}

// Download fetches the package snapshot into the snapshot cache and
// extracts it into dest, stripping the leading "<name>/" tarball prefix.
func (p *RegistryPackage) Download(dest string) error {
	if err := os.MkdirAll(SnapshotDir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	snap := filepath.Join(SnapshotDir, p.Name+snapshotSuffix(p.SnapURL))
	if err := p.fetchSnapshot(snap); err != nil {
		return err
	}
	colArrow.Print("-> ")
	colInfo.Printf("%s: extracting snapshot to %s\n", p.Name, dest)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("%s: clear build dir: %w", p.Name, err)
	}
	return extractArchive(snap, dest, p.Name+"/")
}

func snapshotSuffix(rawURL string) string {
	for _, s := range []string{".tar.gz", ".tar.xz", ".tar.zst"} {
		if strings.HasSuffix(rawURL, s) {
			return s
		}
	}
	return ".tar.gz"
}

// fetchSnapshot downloads the snapshot tarball under an exclusive flock so
// concurrent runs never clobber each other's partial downloads. An
// S3-compatible mirror, when configured, is tried before the registry.
func (p *RegistryPackage) fetchSnapshot(dst string) error {
	lockPath := dst + ".lock"
	lFile, err := os.Create(lockPath)
	if err != nil {
		return fmt.Errorf("create lock file: %w", err)
	}
	defer lFile.Close()
	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("acquire download lock: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// Another run may have completed the download while we waited.
	if fileExists(dst) {
		debugf("snapshot %s already cached\n", dst)
		_ = os.Remove(lockPath)
		return nil
	}
	defer func() {
		if fileExists(dst) {
			_ = os.Remove(lockPath)
		}
	}()

	if MirrorBucket != "" {
		err := mirrorFetchSnapshot(filepath.Base(dst), dst)
		if err == nil {
			return nil
		}
		debugf("mirror fetch failed, falling back to registry: %v\n", err)
	}
	return httpDownload(p.registry.client, p.SnapURL, dst,
		fmt.Sprintf("%s snapshot", p.Name))
}

// httpDownload streams a URL to a file with a byte progress bar, writing
// to a .part file first so an interrupted download never looks complete.
func httpDownload(client *http.Client, rawURL, dst, label string) error {
	resp, err := client.Get(rawURL)
	if err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", rawURL, resp.Status)
	}

	part := dst + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}
	bar := progressbar.DefaultBytes(resp.ContentLength, label)
	_, err = copyWithProgress(f, resp.Body, bar)
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	if closeErr != nil {
		_ = os.Remove(part)
		return fmt.Errorf("write %s: %w", part, closeErr)
	}
	return os.Rename(part, dst)
}

// GitRepo is a local git checkout driven through the git CLI.
type GitRepo struct {
	Path string
}

func (g GitRepo) git(args ...string) *exec.Cmd {
	return exec.Command("git", append([]string{"-C", g.Path}, args...)...)
}

// IsRepo reports whether the path is a git work tree.
func (g GitRepo) IsRepo() bool {
	cmd := g.git("rev-parse", "--is-inside-work-tree")
	return cmd.Run() == nil
}

// UpToDate fetches the remote and reports whether HEAD matches it.
func (g GitRepo) UpToDate() (bool, error) {
	if err := g.git("fetch", "--quiet").Run(); err != nil {
		return false, fmt.Errorf("git fetch %s: %w", g.Path, err)
	}
	local, err := g.git("rev-parse", "HEAD").Output()
	if err != nil {
		return false, fmt.Errorf("git rev-parse %s: %w", g.Path, err)
	}
	remote, err := g.git("rev-parse", "@{u}").Output()
	if err != nil {
		return false, fmt.Errorf("git rev-parse upstream %s: %w", g.Path, err)
	}
	return string(local) == string(remote), nil
}

// Pull runs git pull in the checkout.
func (g GitRepo) Pull() error {
	if err := g.git("pull", "--quiet").Run(); err != nil {
		return fmt.Errorf("git pull %s: %w", g.Path, err)
	}
	return nil
}

// Clone performs a shallow clone of url into the path, which must not
// already exist.
func (g GitRepo) Clone(url string) error {
	if fileExists(g.Path) {
		return fmt.Errorf("git clone: %s already exists", g.Path)
	}
	cmd := exec.Command("git", "clone", "--depth=1", url, g.Path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone %s: %w", url, err)
	}
	return nil
}

// CloneOrPull materializes the package's git repository at dest. An
// existing checkout is pulled only when it is behind its upstream.
// Reports whether dest changed.
func (p *RegistryPackage) CloneOrPull(dest string) (bool, error) {
	if dirExists(dest) {
		repo := GitRepo{Path: dest}
		if repo.IsRepo() {
			current, err := repo.UpToDate()
			if err != nil {
				return false, err
			}
			if current {
				return false, nil
			}
			return true, repo.Pull()
		}
		// Stale non-git directory from a snapshot fetch; replace it.
		if err := os.RemoveAll(dest); err != nil {
			return false, fmt.Errorf("%s: clear build dir: %w", p.Name, err)
		}
	}
	return true, (GitRepo{Path: dest}).Clone(p.GitURL)
}
