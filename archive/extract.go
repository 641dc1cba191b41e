package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/lambci/cmda/iox"
)

// Entry describes an unpacked archive member.
type Entry struct {
	Path string
	Size int64
}

// ExtractOptions configures Extract.
type ExtractOptions struct {
	// Compressed indicates the stream is gzip-wrapped.
	Compressed bool
	// OnEntry, if set, is called for every member before it is written.
	OnEntry func(Entry)
}

// CorruptError reports a truncated or otherwise undecodable archive stream.
type CorruptError struct {
	Err error
}

func (e *CorruptError) Error() string {
	return "archive corrupted: " + e.Err.Error()
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// IsCorrupt reports whether err indicates a damaged archive stream rather
// than a filesystem or transport failure.
func IsCorrupt(err error) bool {
	if err == nil {
		return false
	}
	var ce *CorruptError
	if errors.As(err, &ce) {
		return true
	}
	var fe flate.CorruptInputError
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, gzip.ErrHeader) ||
		errors.Is(err, gzip.ErrChecksum) ||
		errors.Is(err, tar.ErrHeader) ||
		errors.As(err, &fe)
}

func classify(err error) error {
	if err == nil || !IsCorrupt(err) {
		return err
	}
	var ce *CorruptError
	if errors.As(err, &ce) {
		return err
	}
	return &CorruptError{Err: err}
}

// Extract unpacks the archive read from r into destDir, creating destDir if
// needed. Members that would land outside destDir are rejected, whether by
// name, by symlink target, or by a path routed through an existing symlink.
//
// The first failure, from either the source stream or the filesystem, ends
// the extraction. Closing r is left to the caller.
func Extract(ctx context.Context, r io.Reader, destDir string, opts ExtractOptions) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return fmt.Errorf("open %s: %w", destDir, err)
	}
	defer iox.DiscardClose(root)

	src := r
	if opts.Compressed {
		gz, err := gzip.NewReader(r)
		if err != nil {
			// An empty or header-truncated object is the shortest form of a
			// truncated stream.
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return classify(fmt.Errorf("open gzip stream: %w", err))
		}
		defer iox.DiscardClose(gz)
		src = gz
	}

	tr := tar.NewReader(src)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return classify(fmt.Errorf("read tar header: %w", err))
		}
		if opts.OnEntry != nil {
			opts.OnEntry(Entry{Path: hdr.Name, Size: hdr.Size})
		}
		if err := extractEntry(root, tr, hdr); err != nil {
			return classify(err)
		}
	}

	// Consume the tail so the gzip trailer checksum is verified.
	if _, err := io.Copy(io.Discard, src); err != nil {
		return classify(fmt.Errorf("read archive trailer: %w", err))
	}
	return nil
}

// extractEntry writes one member beneath root. All filesystem access goes
// through root, which refuses to follow symlinks out of the destination.
func extractEntry(root *os.Root, tr *tar.Reader, hdr *tar.Header) error {
	target, err := safeRel(hdr.Name)
	if err != nil {
		return err
	}
	mode := hdr.FileInfo().Mode()

	switch hdr.Typeflag {
	case tar.TypeDir:
		return root.MkdirAll(target, mode.Perm()|0o700)

	case tar.TypeReg:
		return writeFile(root, tr, target, mode.Perm(), hdr)

	case tar.TypeSymlink:
		if err := checkLinkTarget(target, hdr.Linkname); err != nil {
			return err
		}
		if err := root.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := removeExisting(root, target); err != nil {
			return err
		}
		return root.Symlink(hdr.Linkname, target)

	case tar.TypeLink:
		source, err := safeRel(hdr.Linkname)
		if err != nil {
			return err
		}
		if err := removeExisting(root, target); err != nil {
			return err
		}
		return root.Link(source, target)

	default:
		// Devices, fifos and vendor extensions are not materialized.
		return nil
	}
}

func removeExisting(root *os.Root, name string) error {
	if err := root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func writeFile(root *os.Root, r io.Reader, target string, perm os.FileMode, hdr *tar.Header) error {
	if err := root.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := root.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		iox.DiscardClose(f)
		return fmt.Errorf("write %s: %w", hdr.Name, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if !hdr.ModTime.IsZero() {
		_ = root.Chtimes(target, hdr.ModTime, hdr.ModTime)
	}
	return nil
}

// safeRel cleans name into a path relative to the destination, rejecting
// absolute and parent paths.
func safeRel(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || escapes(clean) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return clean, nil
}

// checkLinkTarget rejects symlinks whose target is absolute or resolves
// above the destination from the link's own directory.
func checkLinkTarget(link, target string) error {
	t := filepath.FromSlash(target)
	if filepath.IsAbs(t) || escapes(filepath.Join(filepath.Dir(link), t)) {
		return fmt.Errorf("archive symlink %q -> %q escapes destination", link, target)
	}
	return nil
}

func escapes(clean string) bool {
	return clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator))
}
