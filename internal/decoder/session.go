package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"player-backend/pkg/codec"
)

// State of a decode session.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateDecoding
	StatePaused
	StateEOF
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateDecoding:
		return "decoding"
	case StatePaused:
		return "paused"
	case StateEOF:
		return "eof"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type session struct {
	id        int64
	chunkSize int
	state     State
	stream    codec.Stream
	mountDir  string
	mounted   string
}

// mount stages file into a fresh directory under root. Paths are symlinked
// when possible and copied otherwise; inline data is written out.
func (s *session) mount(root string, file File) error {
	dir := filepath.Join(root, fmt.Sprintf("session-%d", s.id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create mount dir: %w", err)
	}
	s.mountDir = dir

	name := file.Name
	if name == "" {
		name = filepath.Base(file.Path)
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		return errors.New("file has no name")
	}
	target := filepath.Join(dir, filepath.Base(name))

	switch {
	case file.Data != nil:
		if err := os.WriteFile(target, file.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write mounted file: %w", err)
		}
	case file.Path != "":
		src, err := filepath.Abs(file.Path)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", file.Path, err)
		}
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("failed to stat %s: %w", file.Path, err)
		}
		if err := os.Symlink(src, target); err != nil {
			if err := copyFile(src, target); err != nil {
				return fmt.Errorf("failed to mount %s: %w", file.Path, err)
			}
		}
	default:
		return errors.New("file has neither path nor data")
	}

	s.mounted = target
	return nil
}

// teardown closes the stream and removes the mount. Safe on partial state.
func (s *session) teardown() {
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			logger.Debug().Err(err).Int64("id", s.id).Msg("Stream close failed")
		}
		s.stream = nil
	}
	if s.mountDir != "" {
		if err := os.RemoveAll(s.mountDir); err != nil {
			logger.Debug().Err(err).Str("dir", s.mountDir).Msg("Unmount failed")
		}
		s.mountDir = ""
		s.mounted = ""
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
