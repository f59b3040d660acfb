package state

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/bedtime/internal/types"
)

// BlobStore is a filesystem object store. Objects are served back under
// <publicURL>/media/<key>.
type BlobStore struct {
	root      string
	publicURL string
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// NewBlobStore creates a blob store rooted at root.
func NewBlobStore(root, publicURL string) *BlobStore {
	return &BlobStore{root: root, publicURL: strings.TrimSuffix(publicURL, "/")}
}

// Root returns the directory objects are stored under.
func (b *BlobStore) Root() string {
	return b.root
}

func (b *BlobStore) objectPath(key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if key == "" || clean != key || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: bad object key %q", types.ErrInvalidInput, key)
	}
	return filepath.Join(b.root, filepath.FromSlash(clean)), nil
}

// URL returns the public URL for key.
func (b *BlobStore) URL(key string) string {
	return b.publicURL + "/media/" + key
}

// Upload writes body to key atomically and returns its public URL. The
// content type is recovered from the key's extension when served.
func (b *BlobStore) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	target, err := b.objectPath(key)
	if err != nil {
		return "", err
	}
	if ext := path.Ext(key); ext != "" && contentType != "" && mime.TypeByExtension(ext) == "" {
		if err := mime.AddExtensionType(ext, contentType); err != nil {
			return "", fmt.Errorf("register content type: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, readerWithContext(ctx, body)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("rename object: %w", err)
	}
	return b.URL(key), nil
}

// Delete removes key. A missing object is not an error.
func (b *BlobStore) Delete(_ context.Context, key string) error {
	target, err := b.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// List returns every object whose key starts with prefix.
func (b *BlobStore) List(_ context.Context, prefix string) ([]BlobInfo, error) {
	var out []BlobInfo
	err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == b.root && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, BlobInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return out, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
