package lyrics

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"player-backend/pkg/fileutil"
)

// FileCache keeps raw lyric payloads as one file per song under dir.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir}
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, sanitizeFilename(key)+".json")
}

func (c *FileCache) Get(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	logger.Debug().Str("key", key).Msg("Cache HIT")
	return string(data), true, nil
}

func (c *FileCache) Set(_ context.Context, key, value string) error {
	return fileutil.WriteFileOverwrite(c.path(key), []byte(value), 0o644)
}
