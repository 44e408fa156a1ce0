package lyrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"player-backend/pkg/ai"
	"player-backend/pkg/music"

	"github.com/samber/lo"
)

// Status is the outcome of a lyric lookup.
type Status int

const (
	StatusNotFound Status = iota
	StatusFound
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not-found"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrStale marks a lookup that was superseded by a newer one.
var ErrStale = errors.New("lyrics lookup superseded")

// Result is a resolved timeline. Err is set only when Status is StatusFailed.
type Result struct {
	Status Status
	Source string
	Format Format
	Lines  []Line
	Err    error
}

// Track identifies what is playing.
type Track struct {
	Path       string
	Title      string
	Artist     string
	MediaTitle string
	// Duration in seconds, 0 when unknown.
	Duration float64
}

// RawCache stores raw lyric payloads.
type RawCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// PreferenceStore remembers which online source answered for a song.
type PreferenceStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// OnlineSource queries lyric providers.
type OnlineSource interface {
	GetLyricsPreferring(ctx context.Context, title, artist string, duration float64, preferred string) (music.Lyrics, error)
}

// Translator fills translations for untranslated lyrics.
type Translator interface {
	Translate(ctx context.Context, lines []string) ([]string, error)
}

// LocalLookup finds lyrics stored beside or inside a track file.
type LocalLookup interface {
	Find(trackPath string) (music.Lyrics, bool, error)
}

// Options wires the lookup chain. Nil members are skipped.
type Options struct {
	Local       LocalLookup
	Cache       RawCache
	Online      OnlineSource
	Preferences PreferenceStore
	Identifier  ai.AiInterface
	Translator  Translator
	Transforms  Transforms
	Timeout     time.Duration
}

// Provider resolves the lyric timeline of a track: local files first, then
// the raw cache, then online sources.
type Provider struct {
	opts Options
	seq  atomic.Uint64
}

func NewProvider(opts Options) *Provider {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &Provider{opts: opts}
}

var unsafeFilenameRe = regexp.MustCompile(`[\\/:*?"<>|]`)

func sanitizeFilename(name string) string {
	return unsafeFilenameRe.ReplaceAllString(name, "-")
}

func songKey(title, artist string) string {
	return sanitizeFilename(strings.ToLower(strings.TrimSpace(title)) + "|" + strings.ToLower(strings.TrimSpace(artist)))
}

// Lookup resolves track. Starting a new lookup makes any in-flight one
// return StatusFailed with ErrStale.
func (p *Provider) Lookup(ctx context.Context, track Track) Result {
	id := p.seq.Add(1)
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	res := p.lookup(ctx, id, track)
	if p.seq.Load() != id {
		return Result{Status: StatusFailed, Err: ErrStale}
	}
	if res.Status == StatusFound {
		res.Lines = p.opts.Transforms.Apply(res.Lines)
	}
	logger.Info().
		Str("title", track.Title).
		Str("status", res.Status.String()).
		Str("source", res.Source).
		Int("lines", len(res.Lines)).
		Msg("Lyrics lookup finished")
	return res
}

func (p *Provider) stale(id uint64) bool {
	return p.seq.Load() != id
}

func (p *Provider) lookup(ctx context.Context, id uint64, track Track) Result {
	if p.opts.Local != nil && track.Path != "" {
		raw, ok, err := p.opts.Local.Find(track.Path)
		if err != nil {
			logger.Warn().Err(err).Str("path", track.Path).Msg("Local lyrics lookup failed")
		}
		if ok {
			return p.found("local", raw)
		}
	}

	title, artist := track.Title, track.Artist
	if title == "" {
		info, err := p.identify(ctx, track.MediaTitle)
		if err != nil {
			if errors.Is(err, ai.ErrNotSong) {
				return Result{Status: StatusNotFound}
			}
			return Result{Status: StatusFailed, Err: err}
		}
		title, artist = info.Title, info.Artist
	}
	if p.stale(id) {
		return Result{Status: StatusFailed, Err: ErrStale}
	}

	key := songKey(title, artist)
	if raw, ok := p.cached(ctx, key); ok {
		return p.found("cache", raw)
	}

	if p.opts.Online == nil {
		return Result{Status: StatusNotFound}
	}

	var preferred string
	if p.opts.Preferences != nil {
		preferred, _ = p.opts.Preferences.Get(key)
	}
	raw, err := p.opts.Online.GetLyricsPreferring(ctx, title, artist, track.Duration, preferred)
	if p.stale(id) {
		return Result{Status: StatusFailed, Err: ErrStale}
	}
	if err != nil {
		if ctx.Err() != nil {
			return Result{Status: StatusFailed, Err: err}
		}
		logger.Info().Err(err).Str("title", title).Str("artist", artist).Msg("No online lyrics")
		return Result{Status: StatusNotFound}
	}

	p.fillTranslation(ctx, &raw)
	p.store(ctx, key, raw)
	if p.opts.Preferences != nil && raw.Provider != "" {
		if err := p.opts.Preferences.Set(key, raw.Provider); err != nil {
			logger.Warn().Err(err).Msg("Failed to save source preference")
		}
	}
	return p.found(raw.Provider, raw)
}

func (p *Provider) identify(ctx context.Context, mediaTitle string) (ai.SongInfo, error) {
	if strings.TrimSpace(mediaTitle) == "" {
		return ai.SongInfo{}, ai.ErrNotSong
	}
	if p.opts.Identifier != nil {
		info, err := ai.Identify(ctx, p.opts.Identifier, mediaTitle)
		if err == nil || errors.Is(err, ai.ErrNotSong) {
			return info, err
		}
		logger.Warn().Err(err).Msg("Model identification failed, splitting title")
	}
	return ai.SplitTitle(mediaTitle), nil
}

func (p *Provider) cached(ctx context.Context, key string) (music.Lyrics, bool) {
	if p.opts.Cache == nil {
		return music.Lyrics{}, false
	}
	s, ok, err := p.opts.Cache.Get(ctx, key)
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return music.Lyrics{}, false
	}
	if !ok {
		return music.Lyrics{}, false
	}
	var raw music.Lyrics
	if err := json.Unmarshal([]byte(s), &raw); err != nil || raw.Empty() {
		logger.Warn().Str("key", key).Msg("Discarding unreadable cache entry")
		return music.Lyrics{}, false
	}
	return raw, true
}

func (p *Provider) store(ctx context.Context, key string, raw music.Lyrics) {
	if p.opts.Cache == nil {
		return
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return
	}
	if err := p.opts.Cache.Set(ctx, key, string(data)); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// fillTranslation machine-translates LRC lyrics that came without a
// translation, keeping the original line timestamps. Word timing tags are not
// sent to the translator.
func (p *Provider) fillTranslation(ctx context.Context, raw *music.Lyrics) {
	if p.opts.Translator == nil || raw.Translation != "" || raw.Kind == music.KindQRC {
		return
	}
	_, lines := ParseSmartLrc(raw.Main)
	if len(lines) == 0 {
		return
	}
	texts := lo.Map(lines, func(l Line, _ int) string { return l.Text() })
	translated, err := p.opts.Translator.Translate(ctx, texts)
	if err != nil {
		logger.Info().Err(err).Msg("Translation skipped")
		return
	}

	var sb strings.Builder
	for i, l := range lines {
		if i >= len(translated) || translated[i] == "" {
			continue
		}
		fmt.Fprintf(&sb, "[%s]%s\n", formatLrcTime(l.StartTime), translated[i])
	}
	raw.Translation = sb.String()
}

func formatLrcTime(ms float64) string {
	total := int(ms)
	return fmt.Sprintf("%02d:%02d.%03d", total/60_000, total/1000%60, total%1000)
}

func (p *Provider) found(source string, raw music.Lyrics) Result {
	format, lines := Parse(raw)
	if len(lines) == 0 {
		return Result{Status: StatusNotFound, Source: source}
	}
	return Result{Status: StatusFound, Source: source, Format: format, Lines: lines}
}

// Parse turns a raw payload into a timeline with its secondary tracks aligned.
func Parse(raw music.Lyrics) (Format, []Line) {
	if raw.Kind == music.KindQRC {
		return FormatQRC, ParseQRC(raw.Main, raw.Translation, raw.Roman)
	}

	format, lines := ParseSmartLrc(raw.Main)
	if raw.Translation != "" {
		lines = AlignLyrics(lines, ParseLineLrc(raw.Translation), AlignTranslation)
	}
	if raw.Roman != "" {
		lines = AlignLyrics(lines, ParseLineLrc(raw.Roman), AlignRoman)
	}
	return format, lines
}
