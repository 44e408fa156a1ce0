package music

import (
	"context"
)

// Lyrics 一次歌词查询的原始结果
type Lyrics struct {
	Main        string `json:"main"`
	Translation string `json:"translation,omitempty"`
	Roman       string `json:"roman,omitempty"`
	// Kind 为 Main 的编码："lrc" 或 "qrc"
	Kind     string `json:"kind"`
	Provider string `json:"provider"`
}

// Empty 没有任何可用歌词
func (l Lyrics) Empty() bool {
	return l.Main == ""
}

const (
	KindLRC = "lrc"
	KindQRC = "qrc"
)

// MusicAPI 音乐API通用接口
type MusicAPI interface {
	// SearchSong 搜索歌曲，返回歌曲ID
	SearchSong(ctx context.Context, title, artist string) (string, error)

	// GetLyrics 根据歌曲ID获取歌词
	GetLyrics(ctx context.Context, songID string) (Lyrics, error)

	// GetProviderName 获取音乐提供商名称
	GetProviderName() string
}

// InfoLookup 可以直接按歌曲信息（含时长）查询歌词的提供商
type InfoLookup interface {
	GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (Lyrics, error)
}

// MusicManager 音乐管理器接口（扩展接口，包含组合操作）
type MusicManager interface {
	MusicAPI

	// GetLyricsByInfo 根据歌曲信息直接获取歌词（封装搜索+获取歌词）
	GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (Lyrics, error)
}

// SongInfo 歌曲信息结构
type SongInfo struct {
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Duration float64 `json:"duration"` // 歌曲时长（秒）
	IsSong   bool    `json:"is_song"`
}
