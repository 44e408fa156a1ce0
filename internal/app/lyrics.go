package app

import (
	"context"
	"fmt"
	"path/filepath"

	"player-backend/internal/config"
	"player-backend/internal/lyrics"
	"player-backend/pkg/ai"
	"player-backend/pkg/ai/gemini"
	"player-backend/pkg/ai/openai"
	"player-backend/pkg/lrclib"
	"player-backend/pkg/music"
	"player-backend/pkg/netease"
	"player-backend/pkg/preference"
	"player-backend/pkg/redis"
	"player-backend/pkg/tencent"

	"golang.org/x/time/rate"
)

// lyricStack is the lyric provider plus the resources it holds open.
type lyricStack struct {
	provider *lyrics.Provider
	local    *lyrics.LocalSource
	closers  []func() error
}

func (s *lyricStack) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close lyric resource")
		}
	}
}

func newMusicManager(cfg config.LyricsConfig) (*music.Manager, error) {
	names, err := music.ParseProviders(cfg.Providers)
	if err != nil {
		return nil, err
	}

	apis := make([]music.MusicAPI, 0, len(names))
	for _, name := range names {
		switch name {
		case music.ProviderNetEase:
			apis = append(apis, netease.NewClient(cfg.NeteaseCookie))
		case music.ProviderLRCLib:
			apis = append(apis, lrclib.NewClient(cfg.LRCLibURL))
		}
	}

	var opts []music.Option
	if cfg.RateLimit > 0 {
		opts = append(opts, music.WithRateLimit(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1)))
	}
	return music.NewManager(apis, opts...), nil
}

func newIdentifier(ctx context.Context, cfg config.AIConfig) (ai.AiInterface, func() error, error) {
	if cfg.APIKey == "" {
		return nil, nil, nil
	}
	switch cfg.ModuleName {
	case "gemini":
		g, err := gemini.NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	case "openai":
		return openai.NewOpenAi(cfg.APIKey, cfg.Model, cfg.BaseURL), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown ai module %q", cfg.ModuleName)
	}
}

// newLyricStack wires local files, the raw cache, online sources and the
// optional model, translator and text transforms.
func newLyricStack(ctx context.Context, cfg *config.Config) (*lyricStack, error) {
	stack := &lyricStack{local: lyrics.NewLocalSource()}
	opts := lyrics.Options{
		Local:   stack.local,
		Timeout: cfg.Lyrics.Timeout,
	}

	online, err := newMusicManager(cfg.Lyrics)
	if err != nil {
		return nil, err
	}
	opts.Online = online

	opts.Cache = lyrics.NewFileCache(filepath.Join(cfg.App.CacheDir, "lyrics"))
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix, cfg.Redis.TTL)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, using file cache")
		} else {
			opts.Cache = rc
			stack.closers = append(stack.closers, rc.Close)
		}
	}

	if prefs, err := preference.Open(cfg.Lyrics.PreferenceFile); err != nil {
		logger.Warn().Err(err).Msg("Source preferences disabled")
	} else {
		opts.Preferences = prefs
	}

	identifier, closeFn, err := newIdentifier(ctx, cfg.AI)
	if err != nil {
		logger.Warn().Err(err).Msg("Model identification disabled")
	} else if identifier != nil {
		opts.Identifier = identifier
		if closeFn != nil {
			stack.closers = append(stack.closers, closeFn)
		}
	}

	if cfg.Tencent.SecretID != "" && cfg.Tencent.SecretKey != "" {
		tr, err := tencent.NewTranslator(cfg.Tencent.SecretID, cfg.Tencent.SecretKey, cfg.Tencent.Region, cfg.Tencent.Target)
		if err != nil {
			logger.Warn().Err(err).Msg("Machine translation disabled")
		} else {
			opts.Translator = tr
		}
	}

	opts.Transforms.Uncensor = cfg.Lyrics.Uncensor
	if cfg.Lyrics.Conversion != "" {
		conv, err := lyrics.NewChineseConverter(cfg.Lyrics.Conversion)
		if err != nil {
			return nil, err
		}
		opts.Transforms.Chinese = conv
	}

	stack.provider = lyrics.NewProvider(opts)
	return stack, nil
}

// LookupLyrics resolves a single track with the configured lyric stack,
// for one-shot command line use.
func LookupLyrics(ctx context.Context, cfg *config.Config, track lyrics.Track) (lyrics.Result, error) {
	stack, err := newLyricStack(ctx, cfg)
	if err != nil {
		return lyrics.Result{}, err
	}
	defer stack.Close()
	return stack.provider.Lookup(ctx, track), nil
}
