package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore holds file bytes keyed by an opaque content reference. The
// custody core never interprets refs beyond passing them back.
type BlobStore interface {
	// Put stores the stream and returns its SHA-256 hex digest and size.
	Put(ctx context.Context, ref string, r io.Reader) (sha string, size int64, err error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// FSBlobStore keeps blobs under a base directory, one subdirectory per
// owner. Refs are relative slash paths produced by the manager.
type FSBlobStore struct {
	base string
}

var _ BlobStore = (*FSBlobStore)(nil)

// NewFSBlobStore creates the base directory if needed.
func NewFSBlobStore(base string) (*FSBlobStore, error) {
	if strings.TrimSpace(base) == "" {
		return nil, fmt.Errorf("%w: blob base directory is required", ErrInvalidInput)
	}
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FSBlobStore{base: base}, nil
}

func (s *FSBlobStore) resolve(ref string) (string, error) {
	ref = filepath.Clean(filepath.FromSlash(ref))
	if ref == "." || strings.HasPrefix(ref, "..") || filepath.IsAbs(ref) {
		return "", fmt.Errorf("%w: bad blob ref %q", ErrInvalidInput, ref)
	}
	return filepath.Join(s.base, ref), nil
}

func (s *FSBlobStore) Put(ctx context.Context, ref string, r io.Reader) (string, int64, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", 0, fmt.Errorf("create owner dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("create blob: %w", err)
	}

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write blob: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func (s *FSBlobStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (s *FSBlobStore) Delete(ctx context.Context, ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// SanitizeFilename strips path separators and control characters so a
// client-supplied name can safely appear inside a content ref.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20, r == '/', r == '\\', r == ':':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "unnamed"
	}
	return out
}
