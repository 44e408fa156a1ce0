package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var logger = log.With().Str("component", "ai").Logger()

// ErrNotSong is returned when the model decides the media title is not a song.
var ErrNotSong = errors.New("media title is not a song")

// AiInterface is a single-turn text model.
type AiInterface interface {
	Name() string
	HandleText(ctx context.Context, msg string) (string, error)
}

// SongInfo is the identity extracted from a media title.
type SongInfo struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	IsSong bool   `json:"is_song"`
}

func formatQuerySong(title string) string {
	return fmt.Sprintf(`请精确地按照以下JSON格式提取歌曲信息: {"is_song": true, "title": "歌曲标题", "artist": "演唱者"}。  输入是一个媒体标题，如果标题中包含歌曲信息，请返回符合格式的JSON；否则，返回{"is_song": false}。 请注意，"title" 和 "artist" 必须准确，否则将被视为错误，切记不要任何markdown格式，并将繁体中文转换为简体。 媒体标题是：%s`, title)
}

// stripFences removes a markdown code fence some models add despite the prompt.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Identify asks client for the song behind mediaTitle, retrying transient
// failures.
func Identify(ctx context.Context, client AiInterface, mediaTitle string) (SongInfo, error) {
	const maxRetries = 3

	var (
		raw string
		err error
	)
	for i := range maxRetries {
		raw, err = client.HandleText(ctx, formatQuerySong(mediaTitle))
		if err == nil {
			break
		}
		logger.Warn().Err(err).Str("model", client.Name()).Int("attempt", i+1).Msg("Failed to query model")
		select {
		case <-ctx.Done():
			return SongInfo{}, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if err != nil {
		return SongInfo{}, fmt.Errorf("failed to query %s after %d attempts: %w", client.Name(), maxRetries, err)
	}

	var info SongInfo
	if err := json.Unmarshal([]byte(stripFences(raw)), &info); err != nil {
		return SongInfo{}, fmt.Errorf("failed to parse %s response: %w", client.Name(), err)
	}
	if !info.IsSong || info.Title == "" {
		return SongInfo{}, ErrNotSong
	}
	logger.Info().Str("title", info.Title).Str("artist", info.Artist).Msg("Identified song")
	return info, nil
}

// SplitTitle parses "artist - title" without a model. Titles without the
// separator are taken whole as the song title.
func SplitTitle(mediaTitle string) SongInfo {
	mediaTitle = strings.TrimSpace(mediaTitle)
	if artist, title, ok := strings.Cut(mediaTitle, " - "); ok {
		return SongInfo{Title: strings.TrimSpace(title), Artist: strings.TrimSpace(artist), IsSong: true}
	}
	return SongInfo{Title: mediaTitle, IsSong: mediaTitle != ""}
}
