package lrclib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"player-backend/pkg/music"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var logger = log.With().Str("component", "lrclib").Logger()

var _ music.InfoLookup = (*Client)(nil)

// errNotFound LRCLib 对精确查询返回 404
var errNotFound = errors.New("lrclib: track not found")

// maxDurationDiff 时长误差在此范围内视为同一版本（秒）
const maxDurationDiff = 3

// Client LRCLib客户端
type Client struct {
	httpClient     *http.Client
	baseURL        string
	requestTimeout time.Duration
	maxRetries     int
}

// Record LRCLib 的单条歌词记录，/get 与 /search 共用
type Record struct {
	ID           int     `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

func (r Record) durationDiff(target int) int {
	d := int(r.Duration+0.5) - target
	if d < 0 {
		return -d
	}
	return d
}

// NewClient 创建新的LRCLib客户端，baseURL 为空时使用官方地址
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://lrclib.net/api"
	}
	return &Client{
		httpClient:     &http.Client{Timeout: 5 * time.Second},
		baseURL:        strings.TrimRight(baseURL, "/"),
		requestTimeout: 5 * time.Second,
		maxRetries:     3,
	}
}

// GetProviderName 返回提供商名称
func (c *Client) GetProviderName() string {
	return "LRCLib"
}

// SearchSong LRCLib 没有独立的搜索ID，把查询参数编码为 "title|artist"
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	return title + "|" + artist, nil
}

// GetLyrics 根据 SearchSong 返回的ID获取歌词
func (c *Client) GetLyrics(ctx context.Context, songID string) (music.Lyrics, error) {
	title, artist, ok := strings.Cut(songID, "|")
	if !ok {
		return music.Lyrics{}, fmt.Errorf("invalid song ID format: %s", songID)
	}
	return c.GetLyricsByInfo(ctx, title, artist, 0)
}

// GetLyricsByInfo 已知时长时先走 /get 精确匹配，未命中再搜索
func (c *Client) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (music.Lyrics, error) {
	target := int(duration + 0.5)

	if target > 0 {
		rec, err := c.get(ctx, title, artist, target)
		switch {
		case err == nil && rec.SyncedLyrics != "":
			return c.lyrics(rec), nil
		case err != nil && !errors.Is(err, errNotFound):
			logger.Warn().Err(err).Msg("Exact lookup failed, falling back to search")
		}
	}

	records, err := c.search(ctx, title, artist)
	if err != nil {
		return music.Lyrics{}, err
	}
	logger.Info().Int("results", len(records)).Str("title", title).Str("artist", artist).Msg("Search finished")

	best, ok := findBestMatch(records, title, artist, target)
	if !ok {
		if len(records) > 0 && lo.EveryBy(records, func(r Record) bool { return r.Instrumental }) {
			return music.Lyrics{}, fmt.Errorf("'%s - %s' is instrumental", title, artist)
		}
		return music.Lyrics{}, fmt.Errorf("no synced lyrics for '%s - %s'", title, artist)
	}

	logger.Info().
		Str("track", best.TrackName).
		Str("artist", best.ArtistName).
		Float64("duration", best.Duration).
		Int("target", target).
		Msg("Selected synced lyrics")
	return c.lyrics(best), nil
}

func (c *Client) lyrics(r Record) music.Lyrics {
	return music.Lyrics{Main: r.SyncedLyrics, Kind: music.KindLRC, Provider: c.GetProviderName()}
}

func (c *Client) get(ctx context.Context, title, artist string, duration int) (Record, error) {
	params := url.Values{}
	params.Set("track_name", title)
	params.Set("artist_name", artist)
	params.Set("duration", fmt.Sprint(duration))

	var rec Record
	err := c.getJSON(ctx, "/get", params, &rec)
	return rec, err
}

func (c *Client) search(ctx context.Context, title, artist string) ([]Record, error) {
	params := url.Values{}
	params.Set("track_name", title)
	params.Set("artist_name", artist)

	var records []Record
	if err := c.getJSON(ctx, "/search", params, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// getJSON 带重试的 GET 请求，404 直接返回 errNotFound
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	target := c.baseURL + path + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Info().Int("attempt", attempt).Int("max", c.maxRetries).Str("path", path).Msg("Retrying request")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*500) * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", "player-backend/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Request failed")
			lastErr = err
			continue
		}

		switch resp.StatusCode {
		case http.StatusOK:
			defer resp.Body.Close()
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		case http.StatusNotFound:
			resp.Body.Close()
			return errNotFound
		default:
			resp.Body.Close()
			logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("Request failed")
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		}
	}
	return fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// findBestMatch 只考虑带同步歌词的结果：先按标题+歌手、再按标题收窄，
// 有时长时取误差最小者
func findBestMatch(records []Record, title, artist string, duration int) (Record, bool) {
	synced := lo.Filter(records, func(r Record, _ int) bool { return r.SyncedLyrics != "" })
	if len(synced) == 0 {
		return Record{}, false
	}

	pool := lo.Filter(synced, func(r Record, _ int) bool {
		return containsIgnoreCase(r.TrackName, title) && containsIgnoreCase(r.ArtistName, artist)
	})
	if len(pool) == 0 {
		pool = lo.Filter(synced, func(r Record, _ int) bool { return containsIgnoreCase(r.TrackName, title) })
	}
	if len(pool) == 0 {
		pool = synced
	}

	if duration <= 0 {
		return pool[0], true
	}
	if r, ok := lo.Find(pool, func(r Record) bool { return r.durationDiff(duration) <= maxDurationDiff }); ok {
		return r, true
	}
	best := lo.MinBy(pool, func(a, b Record) bool { return a.durationDiff(duration) < b.durationDiff(duration) })
	logger.Debug().Int("diff", best.durationDiff(duration)).Msg("Using closest duration match")
	return best, true
}

// containsIgnoreCase 忽略大小写检查包含关系
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
