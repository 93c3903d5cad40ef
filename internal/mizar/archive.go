package mizar

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// extractArchive unpacks a snapshot tarball into dest, dropping the given
// leading prefix from every member (registries pack snapshots under a
// "<pkgbase>/" top directory).
func extractArchive(src, dest, stripPrefix string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", src, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(src, ".tar.gz") || strings.HasSuffix(src, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip reader for %s: %w", src, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(src, ".tar.xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("xz reader for %s: %w", src, err)
		}
		r = xzr
	case strings.HasSuffix(src, ".tar.zst"):
		zst, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("zstd reader for %s: %w", src, err)
		}
		defer zst.Close()
		r = zst
	case strings.HasSuffix(src, ".tar"):
		// no compression
	default:
		return fmt.Errorf("unsupported archive format: %s", src)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header in %s: %w", src, err)
		}
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		name := hdr.Name
		if stripPrefix != "" {
			if !strings.HasPrefix(name, stripPrefix) {
				continue
			}
			name = strings.TrimPrefix(name, stripPrefix)
		}
		if name == "" {
			continue
		}

		target := filepath.Join(absDest, name)
		// path traversal guard
		if !strings.HasPrefix(target, absDest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal path in archive: %s", hdr.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create parent dir for %s: %w", target, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("create file %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("write %s: %w", target, err)
			}
			out.Close()
		case tar.TypeSymlink:
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("symlink %s: %w", target, err)
			}
		default:
			debugf("skipping tar entry %s (type %c)\n", hdr.Name, hdr.Typeflag)
		}
	}
	return nil
}

// copyWithProgress copies r into w, mirroring every byte into the progress
// bar when one is supplied.
func copyWithProgress(w io.Writer, r io.Reader, bar io.Writer) (int64, error) {
	if bar == nil {
		return io.Copy(w, r)
	}
	return io.Copy(io.MultiWriter(w, bar), r)
}
