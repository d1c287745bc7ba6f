package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrHandleNotFound is returned when a handle has no stored bytes.
var ErrHandleNotFound = errors.New("attachment bytes not found")

// ByteStore persists opaque attachment contents under generated handles.
type ByteStore interface {
	Put(ctx context.Context, data []byte) (handle string, err error)
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
	Delete(ctx context.Context, handle string) error
}

// FileStore keeps each attachment in its own file under root.
type FileStore struct {
	root string
}

// NewFileStore returns a FileStore rooted at root, creating the directory.
func NewFileStore(root string) (*FileStore, error) {
	// G301: Use 0700 for directories
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create attachments dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

// resolve maps a handle to a path, rejecting anything that is not a
// direct child of root.
func (f *FileStore) resolve(handle string) (string, error) {
	if _, err := uuid.Parse(handle); err != nil {
		return "", fmt.Errorf("invalid attachment handle %q", handle)
	}
	path := filepath.Clean(filepath.Join(f.root, handle))
	if !strings.HasPrefix(path, filepath.Clean(f.root)) || filepath.Dir(path) != filepath.Clean(f.root) {
		return "", fmt.Errorf("invalid attachment handle %q", handle)
	}
	return path, nil
}

func (f *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := uuid.NewString()
	path, err := f.resolve(handle)
	if err != nil {
		return "", err
	}
	// G306: Use 0600 for files
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return handle, nil
}

func (f *FileStore) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	path, err := f.resolve(handle)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", handle, ErrHandleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	return file, nil
}

func (f *FileStore) Delete(_ context.Context, handle string) error {
	path, err := f.resolve(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}
