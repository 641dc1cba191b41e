// Package archive streams local file trees into a single tar (optionally
// gzip-compressed) archive and unpacks such archives into a directory.
//
// Every input path is stored under its base name only, so the destination
// directory becomes the root of whatever was archived.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/lambci/cmda/iox"
)

// BuildOptions configures Build.
type BuildOptions struct {
	// Compress wraps the tar stream in gzip.
	Compress bool
}

// Build returns a lazily produced archive of paths.
//
// The archive is written by a goroutine into a pipe, so nothing is
// materialized beyond what the reader has not consumed yet. Errors (missing
// paths, read failures, cancellation) are returned from Read. Closing the
// returned reader early stops the producer.
func Build(ctx context.Context, paths []string, opts BuildOptions) io.ReadCloser {
	pr, pw := io.Pipe()
	list := append([]string(nil), paths...)
	go func() {
		pw.CloseWithError(write(ctx, pw, list, opts))
	}()
	return pr
}

func write(ctx context.Context, dst io.Writer, paths []string, opts BuildOptions) error {
	w := dst
	var gz *gzip.Writer
	if opts.Compress {
		gz = gzip.NewWriter(dst)
		w = gz
	}
	tw := tar.NewWriter(w)

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		if err := addTree(ctx, tw, abs, filepath.Base(abs)); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize tar: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("finalize gzip: %w", err)
		}
	}
	return nil
}

// addTree writes root and, for directories, everything beneath it.
// Entry names are rooted at base.
func addTree(ctx context.Context, tw *tar.Writer, root, base string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, rel))

		info, err := d.Info()
		if err != nil {
			return err
		}
		return addEntry(tw, path, name, info)
	})
}

func addEntry(tw *tar.Writer, path, name string, info fs.FileInfo) error {
	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		link = target
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("header for %s: %w", path, err)
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(f)

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
