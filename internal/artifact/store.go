// Package artifact stores run artifacts: arbitrary files addressed by a run's
// artifact root URI plus a relative path.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// Store reads and writes artifact files under a root URI.
type Store interface {
	// Put writes r to relPath under root, replacing any existing file.
	// It returns the number of bytes written.
	Put(ctx context.Context, root, relPath string, r io.Reader) (int64, error)
	// Get opens relPath under root. Missing files are model.ErrNotFound.
	Get(ctx context.Context, root, relPath string) (io.ReadCloser, error)
	// List returns the direct children of relPath ("" for the root).
	// A missing directory lists as empty.
	List(ctx context.Context, root, relPath string) ([]model.FileInfo, error)
	// Stat describes relPath under root.
	Stat(ctx context.Context, root, relPath string) (model.FileInfo, error)
}

// CleanPath validates an artifact path and returns it in canonical slash
// form. Absolute paths and paths escaping the root are rejected. The empty
// path is the root itself.
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || p == "." {
		return "", nil
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: artifact path %q must be relative", model.ErrInvalidArgument, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: artifact path %q escapes the run root", model.ErrInvalidArgument, p)
		}
	}
	clean := path.Clean(p)
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// LocalStore keeps artifacts on the local filesystem. Roots are file://
// URIs or plain paths.
type LocalStore struct {
	// MaxBytes caps a single Put when positive.
	MaxBytes int64
}

// NewLocalStore returns a LocalStore that rejects files larger than maxBytes
// (no limit when maxBytes <= 0).
func NewLocalStore(maxBytes int64) *LocalStore {
	return &LocalStore{MaxBytes: maxBytes}
}

// ErrTooLarge is returned by Put when the payload exceeds MaxBytes.
var ErrTooLarge = errors.New("artifact: payload too large")

// RootDir converts a local artifact root URI to a directory path.
func RootDir(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: empty artifact root", model.ErrInvalidArgument)
	}
	if !strings.Contains(root, "://") {
		return filepath.Clean(root), nil
	}
	u, err := url.Parse(root)
	if err != nil {
		return "", fmt.Errorf("%w: artifact root %q: %v", model.ErrInvalidArgument, root, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: artifact root scheme %q is not supported", model.ErrInvalidArgument, u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

// FileURI renders a directory as a file:// URI.
func FileURI(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("artifact: resolve %s: %w", dir, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func (s *LocalStore) resolve(root, relPath string) (string, string, error) {
	dir, err := RootDir(root)
	if err != nil {
		return "", "", err
	}
	rel, err := CleanPath(relPath)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), rel, nil
}

// Put writes through a temp file in the destination directory, fsyncs it
// and renames it into place, so readers never observe a partial file.
// Concurrent writers to the same path race; the last rename wins.
func (s *LocalStore) Put(ctx context.Context, root, relPath string, r io.Reader) (int64, error) {
	dest, rel, err := s.resolve(root, relPath)
	if err != nil {
		return 0, fmt.Errorf("artifact: put: %w", err)
	}
	if rel == "" {
		return 0, fmt.Errorf("artifact: put: %w: path must name a file", model.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("artifact: put: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(dest)+"-*")
	if err != nil {
		return 0, fmt.Errorf("artifact: put: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	src := r
	if s.MaxBytes > 0 {
		src = io.LimitReader(r, s.MaxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("artifact: put: write: %w", err)
	}
	if s.MaxBytes > 0 && n > s.MaxBytes {
		_ = tmp.Close()
		return 0, fmt.Errorf("artifact: put %s: %w (limit %d bytes)", rel, ErrTooLarge, s.MaxBytes)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("artifact: put: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("artifact: put: close: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, fmt.Errorf("artifact: put: rename: %w", err)
	}
	return n, nil
}

// Get opens an artifact file for reading.
func (s *LocalStore) Get(ctx context.Context, root, relPath string) (io.ReadCloser, error) {
	p, rel, err := s.resolve(root, relPath)
	if err != nil {
		return nil, fmt.Errorf("artifact: get: %w", err)
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("artifact: get: %w: %s", model.ErrNotFound, rel)
		}
		return nil, fmt.Errorf("artifact: get: %w", err)
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("artifact: get: %w: %s is a directory", model.ErrInvalidArgument, rel)
	}
	return f, nil
}

// List returns the direct children of relPath, sorted by path. Paths in the
// result are relative to the root.
func (s *LocalStore) List(ctx context.Context, root, relPath string) ([]model.FileInfo, error) {
	p, rel, err := s.resolve(root, relPath)
	if err != nil {
		return nil, fmt.Errorf("artifact: list: %w", err)
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.FileInfo{}, nil
		}
		return nil, fmt.Errorf("artifact: list: %w", err)
	}
	out := make([]model.FileInfo, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		fi := model.FileInfo{Path: path.Join(rel, e.Name()), IsDir: e.IsDir()}
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				fi.FileSize = info.Size()
			}
		}
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Stat describes a single artifact.
func (s *LocalStore) Stat(ctx context.Context, root, relPath string) (model.FileInfo, error) {
	p, rel, err := s.resolve(root, relPath)
	if err != nil {
		return model.FileInfo{}, fmt.Errorf("artifact: stat: %w", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.FileInfo{}, fmt.Errorf("artifact: stat: %w: %s", model.ErrNotFound, rel)
		}
		return model.FileInfo{}, fmt.Errorf("artifact: stat: %w", err)
	}
	fi := model.FileInfo{Path: rel, IsDir: info.IsDir()}
	if !info.IsDir() {
		fi.FileSize = info.Size()
	}
	return fi, nil
}

// PutTree uploads a local file, or every regular file below a local
// directory, to destPath under root. Directory layout is preserved.
func PutTree(ctx context.Context, s Store, root, localPath, destPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("artifact: stat %s: %w", localPath, err)
	}
	if !info.IsDir() {
		target := path.Join(destPath, filepath.Base(localPath))
		return putFile(ctx, s, root, localPath, target)
	}
	return filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		return putFile(ctx, s, root, p, path.Join(destPath, filepath.ToSlash(rel)))
	})
}

func putFile(ctx context.Context, s Store, root, localPath, target string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("artifact: open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()
	_, err = s.Put(ctx, root, target, f)
	return err
}

// ResolveRoot returns the artifact root URI to use for a metadata store.
// An explicit root is normalized to a file:// URI. Otherwise a local store
// keeps artifacts in its own "artifacts" directory, and a database store uses
// ./tsuiseki-artifacts.
func ResolveRoot(root, storeURI string) (string, error) {
	if root != "" {
		if strings.Contains(root, "://") {
			if _, err := RootDir(root); err != nil {
				return "", err
			}
			return root, nil
		}
		return FileURI(root)
	}
	if strings.HasPrefix(storeURI, "postgres://") || strings.HasPrefix(storeURI, "postgresql://") {
		return FileURI("tsuiseki-artifacts")
	}
	if storeURI == "" {
		storeURI = "tsuiseki-data"
	}
	dir, err := RootDir(storeURI)
	if err != nil {
		return "", err
	}
	return FileURI(filepath.Join(dir, "artifacts"))
}
