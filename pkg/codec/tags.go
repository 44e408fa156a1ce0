package codec

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
	"github.com/rs/zerolog/log"
)

var logger = log.With().Str("component", "codec").Logger()

// Tags is the subset of embedded metadata the player uses.
type Tags struct {
	Metadata  map[string]string
	Cover     []byte
	CoverMIME string
	Lyrics    string
	FileType  string
}

// ReadTags reads embedded tags from path. Files without tags yield an empty
// result, not an error.
func ReadTags(path string) (Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tags{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return Tags{Metadata: map[string]string{}}, nil
		}
		return Tags{}, fmt.Errorf("failed to read tags: %w", err)
	}

	t := Tags{
		Metadata: make(map[string]string),
		Lyrics:   m.Lyrics(),
		FileType: strings.ToLower(string(m.FileType())),
	}
	put := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			t.Metadata[k] = v
		}
	}
	put("title", m.Title())
	put("artist", m.Artist())
	put("album", m.Album())
	put("album_artist", m.AlbumArtist())
	put("composer", m.Composer())
	put("genre", m.Genre())
	put("comment", m.Comment())
	if y := m.Year(); y > 0 {
		put("date", strconv.Itoa(y))
	}
	if n, _ := m.Track(); n > 0 {
		put("track", strconv.Itoa(n))
	}
	if n, _ := m.Disc(); n > 0 {
		put("disc", strconv.Itoa(n))
	}
	if pic := m.Picture(); pic != nil && len(pic.Data) > 0 {
		t.Cover = pic.Data
		t.CoverMIME = pic.MIMEType
	}
	return t, nil
}

// applyTags merges tags into props. Keys already present in props win.
func applyTags(props *Properties, path string) {
	t, err := ReadTags(path)
	if err != nil {
		logger.Debug().Err(err).Str("path", path).Msg("Tag read failed")
		return
	}
	if props.Metadata == nil {
		props.Metadata = make(map[string]string)
	}
	for k, v := range t.Metadata {
		if _, ok := props.Metadata[k]; !ok {
			props.Metadata[k] = v
		}
	}
	if props.Cover == nil {
		props.Cover = t.Cover
		props.CoverMIME = t.CoverMIME
	}
	if props.Encoding == "" {
		props.Encoding = t.FileType
	}
}
