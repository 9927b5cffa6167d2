package evidence

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

var ErrInvalidName = errors.New("invalid evidence name")

const jpegQuality = 90

// FileStore writes evidence images under a root directory. References are
// slash-separated paths relative to that root.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Store(ctx context.Context, name string, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create evidence subdir: %w", err)
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", fmt.Errorf("save evidence %s: %w", name, err)
	}
	return filepath.ToSlash(filepath.Clean(filepath.FromSlash(name))), nil
}

func (s *FileStore) Encode(ref string) (string, error) {
	path, err := s.Path(ref)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read evidence %s: %w", ref, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Path resolves ref to a file path inside the store root, rejecting anything
// that would escape it.
func (s *FileStore) Path(ref string) (string, error) {
	if ref == "" {
		return "", ErrInvalidName
	}
	clean := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidName, ref)
	}
	return filepath.Join(s.dir, clean), nil
}
