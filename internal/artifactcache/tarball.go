package artifactcache

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/pgzip"

	"github.com/parallaxbuild/parallax/internal/errs"
)

// TarballArtifact is an Artifact backed by a single gzip-compressed tar
// file, kept as a space-efficient alternative to DirectoryArtifact for
// large fan-out caches; every artifact path must still lie below the
// artifact root. pgzip parallelizes both directions across GOMAXPROCS,
// which matters once classes directories run into the tens of thousands of
// files, the same reasoning that leads distri to vendor a parallel xz
// encoder for squashfs image assembly.
type TarballArtifact struct {
	// TarGzPath is the path to the compressed tarball on disk.
	TarGzPath string
}

func (a *TarballArtifact) Paths() []string {
	f, err := os.Open(a.TarGzPath)
	if err != nil {
		return nil
	}
	defer f.Close()
	gr, err := pgzip.NewReader(f)
	if err != nil {
		return nil
	}
	defer gr.Close()
	tr := tar.NewReader(gr)
	var out []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out
		}
		if hdr.Typeflag == tar.TypeReg {
			out = append(out, hdr.Name)
		}
	}
	return out
}

func (a *TarballArtifact) Extract(artifactRoot string, copyFn CopyFn) error {
	f, err := os.Open(a.TarGzPath)
	if err != nil {
		return &errs.CacheIO{Op: "extract", Cause: err}
	}
	defer f.Close()
	gr, err := pgzip.NewReader(f)
	if err != nil {
		return &errs.CacheIO{Op: "extract", Cause: err}
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &errs.CacheIO{Op: "extract", Cause: err}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		dst := filepath.Join(artifactRoot, hdr.Name)
		if !isBelow(artifactRoot, dst) {
			return &errs.CacheIO{Op: "extract", Cause: errOutsideArtifactRoot(dst)}
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return &errs.CacheIO{Op: "extract", Cause: err}
		}
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return &errs.CacheIO{Op: "extract", Cause: err}
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return &errs.CacheIO{Op: "extract", Cause: err}
		}
		if err := out.Close(); err != nil {
			return &errs.CacheIO{Op: "extract", Cause: err}
		}
	}
	return nil
}

// WriteTarball packages the files at relPaths (relative to srcRoot) into a
// new gzip-compressed tarball at dstPath.
func WriteTarball(dstPath, srcRoot string, relPaths []string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer f.Close()

	gw := pgzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for _, rel := range relPaths {
		full := filepath.Join(srcRoot, rel)
		info, err := os.Stat(full)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		in, err := os.Open(full)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, in)
		in.Close()
		if err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}
