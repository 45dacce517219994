package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// LocalStore keeps submission documents on local disk. It is used in
// development when Cloudinary credentials are absent; the returned reference
// is a file:// URL the extractor can read back.
type LocalStore struct {
	dir    string
	logger zerolog.Logger
}

// NewLocalStore ensures dir exists.
func NewLocalStore(dir string, logger zerolog.Logger) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: abs, logger: logger.With().Str("component", "local_store").Logger()}, nil
}

// Upload writes the document under the store directory.
func (s *LocalStore) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, filepath.Base(name))
	file, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}

	s.logger.Debug().Str("path", target).Int64("bytes", written).Msg("submission document stored")

	return "file://" + filepath.ToSlash(target), nil
}
