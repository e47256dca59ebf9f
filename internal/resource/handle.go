// Package resource opens and duplicates handles to watched filesystem objects.
//
// A Handle pins the identity of the object it was opened on. Check compares
// the object currently at the handle's path with that identity, so a resource
// that was removed and recreated under the same name reports ErrGone.
package resource

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrGone reports that the object the handle was opened on no longer exists.
	ErrGone = errors.New("resource no longer exists")
	// ErrPermission reports that access to the object has been revoked.
	ErrPermission = errors.New("resource access revoked")
	// ErrNotLocal reports a relative path that escapes its root.
	ErrNotLocal = errors.New("relative path escapes root")
)

// Handle is an open, exclusively owned reference to a watched object.
type Handle struct {
	file *os.File
	path string
	info os.FileInfo
}

// Open opens relativePath beneath root for change notification.
// An empty relativePath opens root itself.
func Open(root, relativePath string) (*Handle, error) {
	if root == "" {
		return nil, errors.New("root is required")
	}
	path := root
	if relativePath != "" {
		if !filepath.IsLocal(relativePath) {
			return nil, fmt.Errorf("%q: %w", relativePath, ErrNotLocal)
		}
		path = filepath.Join(root, relativePath)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	file, err := os.Open(abs) // #nosec G304 -- caller chooses what to watch
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", abs, err)
	}
	return newHandle(file, abs)
}

// FromFile duplicates f so the returned Handle owns its own descriptor.
// The caller keeps ownership of f.
func FromFile(f *os.File) (*Handle, error) {
	if f == nil {
		return nil, errors.New("file is nil")
	}
	dup, err := duplicate(f)
	if err != nil {
		return nil, fmt.Errorf("duplicating %s: %w", f.Name(), err)
	}
	abs, err := filepath.Abs(f.Name())
	if err != nil {
		_ = dup.Close()
		return nil, fmt.Errorf("resolving %s: %w", f.Name(), err)
	}
	return newHandle(dup, abs)
}

func newHandle(file *os.File, path string) (*Handle, error) {
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &Handle{file: file, path: path, info: info}, nil
}

// Dup returns an independent Handle on the same object.
func (h *Handle) Dup() (*Handle, error) {
	if h == nil || h.file == nil {
		return nil, os.ErrClosed
	}
	dup, err := duplicate(h.file)
	if err != nil {
		return nil, fmt.Errorf("duplicating %s: %w", h.path, err)
	}
	return &Handle{file: dup, path: h.path, info: h.info}, nil
}

// Path returns the absolute path the handle was opened on.
func (h *Handle) Path() string {
	return h.path
}

// IsDir reports whether the handle refers to a directory.
func (h *Handle) IsDir() bool {
	return h.info.IsDir()
}

// Check reports whether the object is still present and accessible at its
// path. It returns nil, an error wrapping ErrGone or ErrPermission, or any
// other stat failure unchanged.
func (h *Handle) Check() error {
	if h == nil || h.file == nil {
		return os.ErrClosed
	}
	info, err := os.Stat(h.path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", h.path, ErrGone)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", h.path, ErrPermission)
	default:
		return err
	}
	if !os.SameFile(h.info, info) {
		return fmt.Errorf("%s replaced: %w", h.path, ErrGone)
	}
	// Stat only needs search permission on the parents; opening needs read
	// permission on the object itself.
	probe, err := os.Open(h.path) // #nosec G304 -- path was opened before
	switch {
	case err == nil:
		return probe.Close()
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", h.path, ErrPermission)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", h.path, ErrGone)
	default:
		return err
	}
}

// Close releases the descriptor. Closing twice returns os.ErrClosed.
func (h *Handle) Close() error {
	if h == nil || h.file == nil {
		return os.ErrClosed
	}
	err := h.file.Close()
	h.file = nil
	return err
}
