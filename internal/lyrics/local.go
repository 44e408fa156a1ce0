package lyrics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"player-backend/pkg/codec"
	"player-backend/pkg/music"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LocalSource finds lyrics stored next to a track (`song.qrc`, `song.lrc`)
// or embedded in its tags. Results are memoized per track until a file
// beside it changes.
type LocalSource struct {
	readTags func(path string) (codec.Tags, error)

	mu      sync.Mutex
	cache   map[string]localEntry
	watcher *fsnotify.Watcher
	watched map[string]bool
}

type localEntry struct {
	lyrics music.Lyrics
	ok     bool
}

func NewLocalSource() *LocalSource {
	return &LocalSource{
		readTags: codec.ReadTags,
		cache:    make(map[string]localEntry),
		watched:  make(map[string]bool),
	}
}

// Find implements LocalLookup.
func (s *LocalSource) Find(trackPath string) (music.Lyrics, bool, error) {
	trackPath = filepath.Clean(trackPath)

	s.mu.Lock()
	if e, hit := s.cache[trackPath]; hit {
		s.mu.Unlock()
		return e.lyrics, e.ok, nil
	}
	s.mu.Unlock()

	lyr, ok, err := s.find(trackPath)
	if err != nil {
		return music.Lyrics{}, false, err
	}

	s.mu.Lock()
	s.cache[trackPath] = localEntry{lyrics: lyr, ok: ok}
	s.watchDirLocked(filepath.Dir(trackPath))
	s.mu.Unlock()
	return lyr, ok, nil
}

func (s *LocalSource) find(trackPath string) (music.Lyrics, bool, error) {
	stem := strings.TrimSuffix(trackPath, filepath.Ext(trackPath))

	for _, c := range []struct {
		ext  string
		kind string
	}{
		{".qrc", music.KindQRC},
		{".lrc", music.KindLRC},
	} {
		text, err := ReadTextFile(stem + c.ext)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return music.Lyrics{}, false, err
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		logger.Debug().Str("file", stem+c.ext).Msg("Using sidecar lyrics")
		lyr := music.Lyrics{Main: text, Kind: c.kind, Provider: "local"}
		if c.kind == music.KindLRC {
			if trans, err := ReadTextFile(stem + ".trans.lrc"); err == nil {
				lyr.Translation = trans
			}
		}
		return lyr, true, nil
	}

	if s.readTags == nil {
		return music.Lyrics{}, false, nil
	}
	tags, err := s.readTags(trackPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return music.Lyrics{}, false, nil
		}
		return music.Lyrics{}, false, err
	}
	if strings.TrimSpace(tags.Lyrics) == "" {
		return music.Lyrics{}, false, nil
	}
	return music.Lyrics{Main: tags.Lyrics, Kind: music.KindLRC, Provider: "local"}, true, nil
}

// Invalidate forgets every memoized track whose file stem matches path.
func (s *LocalSource) Invalidate(path string) {
	stem := lyricStem(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	for track := range s.cache {
		if strings.TrimSuffix(track, filepath.Ext(track)) == stem {
			delete(s.cache, track)
			logger.Debug().Str("track", track).Msg("Local lyrics invalidated")
		}
	}
}

// lyricStem maps "a/song.trans.lrc", "a/song.lrc" and "a/song.flac" to "a/song".
func lyricStem(path string) string {
	path = filepath.Clean(path)
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	return strings.TrimSuffix(stem, ".trans")
}

// Watch invalidates memoized results when files in the directories of looked
// up tracks change. It blocks until ctx is done.
func (s *LocalSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create lyric watcher: %w", err)
	}
	defer watcher.Close()

	s.mu.Lock()
	s.watcher = watcher
	for dir := range s.watched {
		if err := watcher.Add(dir); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch lyric directory")
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.watcher = nil
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.Invalidate(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("Lyric watcher error")
		}
	}
}

func (s *LocalSource) watchDirLocked(dir string) {
	if s.watched[dir] {
		return
	}
	s.watched[dir] = true
	if s.watcher == nil {
		return
	}
	if err := s.watcher.Add(dir); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch lyric directory")
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadTextFile reads a lyric file and returns UTF-8 text. UTF-8 (with or
// without BOM), UTF-16 with BOM and GBK are recognized.
func ReadTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text, err := DecodeText(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return text, nil
}

// DecodeText converts raw lyric bytes to UTF-8.
func DecodeText(data []byte) (string, error) {
	if bytes.HasPrefix(data, utf8BOM) {
		return string(bytes.TrimPrefix(data, utf8BOM)), nil
	}

	if len(data) >= 2 && ((data[0] == 0xFF && data[1] == 0xFE) || (data[0] == 0xFE && data[1] == 0xFF)) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		return decodeWith(data, dec)
	}

	if utf8.Valid(data) {
		return string(data), nil
	}
	return decodeWith(data, simplifiedchinese.GBK.NewDecoder())
}

func decodeWith(data []byte, t transform.Transformer) (string, error) {
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), t))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
