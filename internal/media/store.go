package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"socialrelay/internal/apperr"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var (
	ErrEmpty    = fmt.Errorf("attachment is empty: %w", apperr.ErrInvalid)
	ErrTooLarge = fmt.Errorf("attachment too large: %w", apperr.ErrInvalid)
)

// Store keeps chat attachments under a single directory. Stored files get a
// fresh random name that keeps the extension of the uploaded one.
type Store struct {
	fs       afero.Fs
	dir      string
	maxBytes int64
}

func NewStore(fs afero.Fs, dir string, maxBytes int64) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir %s: %w", dir, err)
	}
	return &Store{fs: fs, dir: dir, maxBytes: maxBytes}, nil
}

// Save writes data and returns the reference name clients use to fetch it.
func (s *Store) Save(ctx context.Context, originalName string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%d bytes, limit %d: %w", len(data), s.maxBytes, ErrTooLarge)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + extension(originalName)
	if err := afero.WriteFile(s.fs, filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	zap.L().Debug("media.saved", zap.String("name", name), zap.Int("bytes", len(data)))
	return name, nil
}

// Remove deletes a stored attachment. Missing files are not an error.
func (s *Store) Remove(name string) error {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("bad attachment name %q: %w", name, apperr.ErrInvalid)
	}
	err := s.fs.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, afero.ErrFileNotFound) {
		return err
	}
	return nil
}

// Open returns the content of a stored attachment.
func (s *Store) Open(name string) ([]byte, error) {
	if name == "" || name != filepath.Base(name) {
		return nil, fmt.Errorf("bad attachment name %q: %w", name, apperr.ErrInvalid)
	}
	b, err := afero.ReadFile(s.fs, filepath.Join(s.dir, name))
	if errors.Is(err, afero.ErrFileNotFound) {
		return nil, fmt.Errorf("attachment %s: %w", name, apperr.ErrNotFound)
	}
	return b, err
}

func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) > 16 || strings.ContainsAny(ext, `/\ `) {
		return ""
	}
	return ext
}
