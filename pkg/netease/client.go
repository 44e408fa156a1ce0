package netease

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"player-backend/pkg/music"

	"github.com/rs/zerolog/log"
)

var logger = log.With().Str("component", "netease").Logger()

const defaultBaseURL = "https://music.163.com"

// NeteaseSearchResponse 网易云搜索API响应
type NeteaseSearchResponse struct {
	Result struct {
		Songs []struct {
			ID      int    `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"songs"`
	} `json:"result"`
}

// NeteaseLyricResponse 网易云歌词API响应
type NeteaseLyricResponse struct {
	Lrc struct {
		Lyric string `json:"lyric"`
	} `json:"lrc"`
	Tlyric struct {
		Lyric string `json:"lyric"`
	} `json:"tlyric"`
	Romalrc struct {
		Lyric string `json:"lyric"`
	} `json:"romalrc"`
}

// Client 网易云音乐客户端
type Client struct {
	httpClient     *http.Client
	baseURL        string
	cookie         string
	maxRetries     int
	requestTimeout time.Duration
}

// NewClient 创建新的网易云音乐客户端
func NewClient(cookie string) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		baseURL:        defaultBaseURL,
		cookie:         cookie,
		maxRetries:     3,
		requestTimeout: 10 * time.Second,
	}
}

// GetProviderName 获取提供商名称
func (c *Client) GetProviderName() string {
	return "NetEase Cloud Music"
}

// SearchSong 搜索歌曲
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("s", strings.TrimSpace(title+" "+artist))
	params.Set("type", "1")
	params.Set("limit", "30")
	searchURL := c.baseURL + "/api/search/get/web?" + params.Encode()
	logger.Debug().Str("url", searchURL).Msg("Searching for song")

	var searchResp NeteaseSearchResponse
	if err := c.getJSON(ctx, searchURL, &searchResp); err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}

	if len(searchResp.Result.Songs) == 0 {
		return "", fmt.Errorf("no songs found for '%s'", title)
	}

	songID := c.findBestMatch(searchResp, artist, title)
	if songID == 0 {
		return "", fmt.Errorf("no matching song found for '%s' by '%s'", title, artist)
	}

	return strconv.Itoa(songID), nil
}

// GetLyrics 获取歌词（原文、翻译、罗马音）
func (c *Client) GetLyrics(ctx context.Context, songID string) (music.Lyrics, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	lyricURL := fmt.Sprintf("%s/api/song/lyric?os=pc&id=%s&lv=-1&kv=-1&tv=-1&rv=-1", c.baseURL, url.QueryEscape(songID))
	logger.Debug().Str("url", lyricURL).Msg("Fetching lyrics")

	var lyricResp NeteaseLyricResponse
	if err := c.getJSON(ctx, lyricURL, &lyricResp); err != nil {
		return music.Lyrics{}, fmt.Errorf("lyric request failed: %w", err)
	}

	return music.Lyrics{
		Main:        lyricResp.Lrc.Lyric,
		Translation: lyricResp.Tlyric.Lyric,
		Roman:       lyricResp.Romalrc.Lyric,
		Kind:        music.KindLRC,
		Provider:    c.GetProviderName(),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	// 设置Cookie
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	req.Header.Set("Referer", "https://music.163.com/")

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API request failed with status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequestWithRetry 发送请求，网络错误或 5xx 时按次数重试
func (c *Client) doRequestWithRetry(req *http.Request) (*http.Response, error) {
	attempts := c.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*200) * time.Millisecond
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(backoff):
			}
			logger.Info().Int("attempt", attempt+1).Int("max", attempts).Msg("Retrying request")
		}

		resp, err := c.httpClient.Do(req.Clone(req.Context()))
		if err != nil {
			lastErr = err
			logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Request failed")
			continue
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
			logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("Request failed")
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

// findBestMatch 找到最佳匹配的歌曲
func (c *Client) findBestMatch(resp NeteaseSearchResponse, targetArtist, targetTitle string) int {
	for _, song := range resp.Result.Songs {
		// 判断歌曲名包含关系
		if !containsIgnoreCase(song.Name, targetTitle) {
			continue
		}

		// 判断歌手名包含关系，artists 可能有多个，只要一个满足就算
		for _, artist := range song.Artists {
			if targetArtist != "" && containsIgnoreCase(artist.Name, targetArtist) {
				logger.Info().Str("song", song.Name).Str("artist", artist.Name).Int("id", song.ID).Msg("Found matching song")
				return song.ID
			}
		}
	}

	// 如果没有找到完全匹配的，返回第一个匹配标题的
	if len(resp.Result.Songs) > 0 && containsIgnoreCase(resp.Result.Songs[0].Name, targetTitle) {
		logger.Info().Str("song", resp.Result.Songs[0].Name).Int("id", resp.Result.Songs[0].ID).Msg("Using first matching song")
		return resp.Result.Songs[0].ID
	}

	return 0
}

// normalizeString 标准化字符串（转小写，去空格）
func normalizeString(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "")
}

// containsIgnoreCase 忽略大小写和空格的包含关系检查
func containsIgnoreCase(s1, s2 string) bool {
	norm1, norm2 := normalizeString(s1), normalizeString(s2)
	return strings.Contains(norm1, norm2) || strings.Contains(norm2, norm1)
}
