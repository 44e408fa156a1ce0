package music

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Provider 音乐提供商类型
type Provider string

const (
	// ProviderLRCLib LRCLib歌词库
	ProviderLRCLib Provider = "lrclib"
	// ProviderNetEase 网易云音乐
	ProviderNetEase Provider = "netease"
)

var logger = log.With().Str("component", "music-manager").Logger()

var errNoProviders = errors.New("no music providers available")

// Option 管理器选项
type Option func(*Manager)

// WithRateLimit 限制对在线提供商的请求频率
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(m *Manager) {
		m.limiter = rate.NewLimiter(limit, burst)
	}
}

// Manager 音乐API管理器
type Manager struct {
	providers []MusicAPI
	primary   MusicAPI
	limiter   *rate.Limiter
}

// NewManager 创建新的音乐API管理器
func NewManager(providers []MusicAPI, opts ...Option) *Manager {
	m := &Manager{limiter: rate.NewLimiter(rate.Inf, 0)}
	for _, opt := range opts {
		opt(m)
	}
	if len(providers) == 0 {
		logger.Warn().Msg("No music providers configured")
		return m
	}

	m.providers = providers
	m.primary = providers[0]
	logger.Info().
		Int("provider_count", len(providers)).
		Str("primary_provider", m.primary.GetProviderName()).
		Msg("Music API Manager initialized")
	return m
}

func (m *Manager) wait(ctx context.Context) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// ordered 返回查询顺序，preferred 对应的提供商排在最前
func (m *Manager) ordered(preferred string) []MusicAPI {
	if preferred == "" {
		return m.providers
	}
	out := make([]MusicAPI, 0, len(m.providers))
	for _, p := range m.providers {
		if p.GetProviderName() == preferred {
			out = append(out, p)
		}
	}
	for _, p := range m.providers {
		if p.GetProviderName() != preferred {
			out = append(out, p)
		}
	}
	return out
}

// SearchSong 搜索歌曲，支持多提供商回退
func (m *Manager) SearchSong(ctx context.Context, title, artist string) (string, error) {
	if len(m.providers) == 0 {
		return "", errNoProviders
	}

	var lastErr error
	for i, provider := range m.providers {
		logger.Info().
			Str("provider", provider.GetProviderName()).
			Int("attempt", i+1).
			Int("total_providers", len(m.providers)).
			Msg("Trying provider")

		if err := m.wait(ctx); err != nil {
			return "", err
		}
		songID, err := provider.SearchSong(ctx, title, artist)
		if err == nil && songID != "" {
			return songID, nil
		}
		if err == nil {
			err = fmt.Errorf("%s returned no song", provider.GetProviderName())
		}

		logger.Warn().
			Str("provider", provider.GetProviderName()).
			Err(err).
			Msg("Provider failed")
		lastErr = err
	}

	return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// GetLyrics 获取歌词，支持多提供商回退
func (m *Manager) GetLyrics(ctx context.Context, songID string) (Lyrics, error) {
	if len(m.providers) == 0 {
		return Lyrics{}, errNoProviders
	}

	var lastErr error
	for _, provider := range m.providers {
		if err := m.wait(ctx); err != nil {
			return Lyrics{}, err
		}
		lyrics, err := provider.GetLyrics(ctx, songID)
		if err == nil && !lyrics.Empty() {
			return lyrics, nil
		}
		if err == nil {
			err = fmt.Errorf("%s returned empty lyrics", provider.GetProviderName())
		}
		logger.Warn().
			Str("provider", provider.GetProviderName()).
			Err(err).
			Msg("Provider failed")
		lastErr = err
	}

	return Lyrics{}, fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// GetLyricsByInfo 根据歌曲信息直接获取歌词（封装搜索+获取歌词）
func (m *Manager) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (Lyrics, error) {
	return m.GetLyricsPreferring(ctx, title, artist, duration, "")
}

// GetLyricsPreferring 同 GetLyricsByInfo，但先尝试名为 preferred 的提供商
func (m *Manager) GetLyricsPreferring(ctx context.Context, title, artist string, duration float64, preferred string) (Lyrics, error) {
	if len(m.providers) == 0 {
		return Lyrics{}, errNoProviders
	}

	providers := m.ordered(preferred)
	var lastErr error
	for i, provider := range providers {
		name := provider.GetProviderName()
		logger.Info().
			Str("title", title).
			Str("artist", artist).
			Float64("duration", duration).
			Str("provider", name).
			Int("attempt", i+1).
			Int("total_providers", len(providers)).
			Msg("Trying to get lyrics")

		lyrics, err := m.fetch(ctx, provider, title, artist, duration)
		if err == nil && lyrics.Empty() {
			err = fmt.Errorf("%s returned empty lyrics", name)
		}
		if err != nil {
			if ctx.Err() != nil {
				return Lyrics{}, ctx.Err()
			}
			logger.Warn().Str("provider", name).Err(err).Msg("Provider failed")
			lastErr = err
			continue
		}

		if lyrics.Provider == "" {
			lyrics.Provider = name
		}
		logger.Info().
			Str("title", title).
			Str("artist", artist).
			Str("provider", name).
			Msg("Successfully got lyrics")
		return lyrics, nil
	}

	return Lyrics{}, fmt.Errorf("all providers failed to get lyrics for '%s - %s', last error: %w", title, artist, lastErr)
}

func (m *Manager) fetch(ctx context.Context, provider MusicAPI, title, artist string, duration float64) (Lyrics, error) {
	// 支持按时长筛选的提供商直接查询
	if lookup, ok := provider.(InfoLookup); ok && duration > 0 {
		if err := m.wait(ctx); err != nil {
			return Lyrics{}, err
		}
		return lookup.GetLyricsByInfo(ctx, title, artist, duration)
	}

	if err := m.wait(ctx); err != nil {
		return Lyrics{}, err
	}
	songID, err := provider.SearchSong(ctx, title, artist)
	if err != nil {
		return Lyrics{}, fmt.Errorf("search failed: %w", err)
	}
	if songID == "" {
		return Lyrics{}, errors.New("search returned no song")
	}

	if err := m.wait(ctx); err != nil {
		return Lyrics{}, err
	}
	lyrics, err := provider.GetLyrics(ctx, songID)
	if err != nil {
		return Lyrics{}, fmt.Errorf("get lyrics for %s failed: %w", songID, err)
	}
	return lyrics, nil
}

// GetProviderName 获取管理器名称（实现MusicAPI接口）
func (m *Manager) GetProviderName() string {
	if m.primary != nil {
		return fmt.Sprintf("Manager[Primary: %s]", m.primary.GetProviderName())
	}
	return "Manager[No Providers]"
}

// GetProviderNames 获取所有提供商名称
func (m *Manager) GetProviderNames() []string {
	names := make([]string, len(m.providers))
	for i, provider := range m.providers {
		names[i] = provider.GetProviderName()
	}
	return names
}
