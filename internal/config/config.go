package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	appName = "player-backend"

	DefaultSocketPath    = "/tmp/player_backend.sock"
	DefaultCheckInterval = 2 * time.Second
	DefaultSyncInterval  = 50 * time.Millisecond
	DefaultLyricLead     = 100 * time.Millisecond
)

// Engine selects what produces audio.
const (
	EngineMpv    = "mpv"
	EngineNative = "native"
	// EngineFollow tracks an external MPRIS player through playerctl.
	EngineFollow = "follow"
)

func getDefaultCacheDir() string {
	// 优先使用 XDG_CACHE_HOME 环境变量
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// 如果获取不到用户主目录，回退到当前目录
		return "player_cache"
	}

	return filepath.Join(homeDir, ".cache", appName)
}

// TomlConfig TOML配置文件结构
type TomlConfig struct {
	App struct {
		SocketPath    string `toml:"socket_path"`
		CheckInterval string `toml:"check_interval"`
		SyncInterval  string `toml:"sync_interval"`
		LyricLead     string `toml:"lyric_lead"`
		CacheDir      string `toml:"cache_dir"`
		MirrorFile    string `toml:"mirror_file"`
		Engine        string `toml:"engine"`
		LogLevel      string `toml:"log_level"`
	} `toml:"app"`

	Audio struct {
		SampleRate    int     `toml:"sample_rate"`
		BufferSize    string  `toml:"buffer_size"`
		ChunkSize     int     `toml:"chunk_size"`
		TickInterval  string  `toml:"tick_interval"`
		Horizon       float64 `toml:"horizon"`
		DisableWorker bool    `toml:"disable_worker"`
	} `toml:"audio"`

	Mpv struct {
		Executable  string   `toml:"executable"`
		SocketDir   string   `toml:"socket_dir"`
		ExtraArgs   []string `toml:"extra_args"`
		AudioDevice string   `toml:"audio_device"`
	} `toml:"mpv"`

	Follow struct {
		Player string `toml:"player"`
	} `toml:"follow"`

	Lyrics struct {
		Providers      []string `toml:"providers"`
		NeteaseCookie  string   `toml:"netease_cookie"`
		LRCLibURL      string   `toml:"lrclib_url"`
		Conversion     string   `toml:"conversion"`
		Uncensor       bool     `toml:"uncensor"`
		RateLimit      float64  `toml:"rate_limit"`
		RateBurst      int      `toml:"rate_burst"`
		Timeout        string   `toml:"timeout"`
		PreferenceFile string   `toml:"preference_file"`
		WatchLocal     *bool    `toml:"watch_local"`
	} `toml:"lyrics"`

	AI struct {
		ModuleName string `toml:"module_name"`
		APIKey     string `toml:"api_key"`
		BaseURL    string `toml:"base_url"` // for OpenAI
		Model      string `toml:"model"`
	} `toml:"ai"`

	Tencent struct {
		SecretID  string `toml:"secret_id"`
		SecretKey string `toml:"secret_key"`
		Region    string `toml:"region"`
		Target    string `toml:"target"`
	} `toml:"tencent"`

	Redis struct {
		Enabled  bool   `toml:"enabled"`
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		Prefix   string `toml:"prefix"`
		TTL      string `toml:"ttl"`
	} `toml:"redis"`

	Statusbar struct {
		Enabled bool   `toml:"enabled"`
		Program string `toml:"program"`
		Signal  int    `toml:"signal"`
	} `toml:"statusbar"`
}

// AppConfig 应用配置
type AppConfig struct {
	SocketPath    string
	CheckInterval time.Duration
	SyncInterval  time.Duration
	LyricLead     time.Duration
	CacheDir      string
	MirrorFile    string
	Engine        string
	LogLevel      string
}

// AudioConfig 内置解码播放配置
type AudioConfig struct {
	SampleRate    int
	BufferSize    time.Duration
	ChunkSize     int
	TickInterval  time.Duration
	Horizon       float64
	DisableWorker bool
}

// MpvConfig mpv 进程配置
type MpvConfig struct {
	Executable  string
	SocketDir   string
	ExtraArgs   []string
	AudioDevice string
}

// FollowConfig 跟随外部播放器配置
type FollowConfig struct {
	Player string
}

// LyricsConfig 歌词来源与处理配置
type LyricsConfig struct {
	Providers      []string
	NeteaseCookie  string
	LRCLibURL      string
	Conversion     string
	Uncensor       bool
	RateLimit      float64
	RateBurst      int
	Timeout        time.Duration
	PreferenceFile string
	WatchLocal     bool
}

// AIConfig AI配置
type AIConfig struct {
	ModuleName string
	APIKey     string
	BaseURL    string
	Model      string
}

// TencentConfig 腾讯云机器翻译配置
type TencentConfig struct {
	SecretID  string
	SecretKey string
	Region    string
	Target    string
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// StatusbarConfig 状态栏刷新配置
type StatusbarConfig struct {
	Enabled bool
	Program string
	Signal  int
}

// Config 主配置结构
type Config struct {
	App       AppConfig
	Audio     AudioConfig
	Mpv       MpvConfig
	Follow    FollowConfig
	Lyrics    LyricsConfig
	AI        AIConfig
	Tencent   TencentConfig
	Redis     RedisConfig
	Statusbar StatusbarConfig
}

// Path 获取配置文件路径
func Path() string {
	// 优先使用 XDG_CONFIG_HOME 环境变量
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, "config.toml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Warn().Err(err).Msg("Cannot get user home directory")
		return "config.toml" // 回退到当前目录
	}

	return filepath.Join(homeDir, ".config", appName, "config.toml")
}

// loadTomlConfig 加载TOML配置文件
func loadTomlConfig(configPath string) (*TomlConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Info().Str("path", configPath).Msg("Config file not found, using defaults")
		return &TomlConfig{}, nil
	}

	var config TomlConfig
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		return nil, err
	}

	log.Info().Str("path", configPath).Msg("Loaded config")
	return &config, nil
}

// Defaults 返回未读取任何文件时的配置
func Defaults() *Config {
	cacheDir := getDefaultCacheDir()
	return &Config{
		App: AppConfig{
			SocketPath:    DefaultSocketPath,
			CheckInterval: DefaultCheckInterval,
			SyncInterval:  DefaultSyncInterval,
			LyricLead:     DefaultLyricLead,
			CacheDir:      cacheDir,
			Engine:        EngineMpv,
			LogLevel:      "info",
		},
		Audio: AudioConfig{
			SampleRate:   44100,
			BufferSize:   100 * time.Millisecond,
			ChunkSize:    4096,
			TickInterval: 75 * time.Millisecond,
			Horizon:      1.5,
		},
		Mpv: MpvConfig{
			Executable: "mpv",
		},
		Lyrics: LyricsConfig{
			Providers:      []string{"netease", "lrclib"},
			Timeout:        20 * time.Second,
			PreferenceFile: filepath.Join(cacheDir, "preferences"),
			WatchLocal:     true,
		},
		AI: AIConfig{
			ModuleName: "gemini",
		},
		Tencent: TencentConfig{
			Region: "ap-guangzhou",
			Target: "zh",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "lyrics:",
		},
		Statusbar: StatusbarConfig{
			Program: "i3blocks",
			Signal:  55,
		},
	}
}

// Load 读取 .env、TOML 配置与环境变量。path 为空时使用默认路径
func Load(path string) *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env")
	}

	if path == "" {
		path = Path()
	}
	tomlConfig, err := loadTomlConfig(path)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load config file, using default configuration")
		tomlConfig = &TomlConfig{}
	}

	config := Defaults()
	merge(config, tomlConfig)
	applyEnv(config)

	if config.AI.APIKey == "" {
		log.Warn().Msg("No AI API key configured, media titles will be split as \"artist - title\"")
	}
	return config
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, v string) {
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration format, using default")
		return
	}
	*dst = d
}

// merge 用 TOML 中的非零值覆盖默认值
func merge(c *Config, t *TomlConfig) {
	setString(&c.App.SocketPath, t.App.SocketPath)
	setDuration(&c.App.CheckInterval, "app.check_interval", t.App.CheckInterval)
	setDuration(&c.App.SyncInterval, "app.sync_interval", t.App.SyncInterval)
	setDuration(&c.App.LyricLead, "app.lyric_lead", t.App.LyricLead)
	setString(&c.App.MirrorFile, t.App.MirrorFile)
	setString(&c.App.Engine, t.App.Engine)
	setString(&c.App.LogLevel, t.App.LogLevel)
	if t.App.CacheDir != "" {
		c.App.CacheDir = t.App.CacheDir
		c.Lyrics.PreferenceFile = filepath.Join(t.App.CacheDir, "preferences")
	}

	if t.Audio.SampleRate > 0 {
		c.Audio.SampleRate = t.Audio.SampleRate
	}
	setDuration(&c.Audio.BufferSize, "audio.buffer_size", t.Audio.BufferSize)
	if t.Audio.ChunkSize > 0 {
		c.Audio.ChunkSize = t.Audio.ChunkSize
	}
	setDuration(&c.Audio.TickInterval, "audio.tick_interval", t.Audio.TickInterval)
	if t.Audio.Horizon > 0 {
		c.Audio.Horizon = t.Audio.Horizon
	}
	c.Audio.DisableWorker = t.Audio.DisableWorker

	setString(&c.Mpv.Executable, t.Mpv.Executable)
	setString(&c.Mpv.SocketDir, t.Mpv.SocketDir)
	setString(&c.Mpv.AudioDevice, t.Mpv.AudioDevice)
	if len(t.Mpv.ExtraArgs) > 0 {
		c.Mpv.ExtraArgs = t.Mpv.ExtraArgs
	}

	setString(&c.Follow.Player, t.Follow.Player)

	if len(t.Lyrics.Providers) > 0 {
		c.Lyrics.Providers = t.Lyrics.Providers
	}
	setString(&c.Lyrics.NeteaseCookie, t.Lyrics.NeteaseCookie)
	setString(&c.Lyrics.LRCLibURL, t.Lyrics.LRCLibURL)
	setString(&c.Lyrics.Conversion, t.Lyrics.Conversion)
	c.Lyrics.Uncensor = t.Lyrics.Uncensor
	if t.Lyrics.RateLimit > 0 {
		c.Lyrics.RateLimit = t.Lyrics.RateLimit
	}
	if t.Lyrics.RateBurst > 0 {
		c.Lyrics.RateBurst = t.Lyrics.RateBurst
	}
	setDuration(&c.Lyrics.Timeout, "lyrics.timeout", t.Lyrics.Timeout)
	setString(&c.Lyrics.PreferenceFile, t.Lyrics.PreferenceFile)
	if t.Lyrics.WatchLocal != nil {
		c.Lyrics.WatchLocal = *t.Lyrics.WatchLocal
	}

	setString(&c.AI.ModuleName, t.AI.ModuleName)
	setString(&c.AI.APIKey, t.AI.APIKey)
	setString(&c.AI.BaseURL, t.AI.BaseURL)
	setString(&c.AI.Model, t.AI.Model)

	setString(&c.Tencent.SecretID, t.Tencent.SecretID)
	setString(&c.Tencent.SecretKey, t.Tencent.SecretKey)
	setString(&c.Tencent.Region, t.Tencent.Region)
	setString(&c.Tencent.Target, t.Tencent.Target)

	c.Redis.Enabled = t.Redis.Enabled
	setString(&c.Redis.Addr, t.Redis.Addr)
	setString(&c.Redis.Password, t.Redis.Password)
	if t.Redis.DB != 0 {
		c.Redis.DB = t.Redis.DB
	}
	setString(&c.Redis.Prefix, t.Redis.Prefix)
	setDuration(&c.Redis.TTL, "redis.ttl", t.Redis.TTL)

	c.Statusbar.Enabled = t.Statusbar.Enabled
	setString(&c.Statusbar.Program, t.Statusbar.Program)
	if t.Statusbar.Signal > 0 {
		c.Statusbar.Signal = t.Statusbar.Signal
	}
}

// applyEnv 让环境变量覆盖密钥类配置
func applyEnv(c *Config) {
	setString(&c.Lyrics.NeteaseCookie, os.Getenv("NETEASE_COOKIE"))
	setString(&c.AI.APIKey, os.Getenv("AI_API_KEY"))
	setString(&c.AI.BaseURL, os.Getenv("AI_BASE_URL"))
	setString(&c.Tencent.SecretID, os.Getenv("TENCENTCLOUD_SECRET_ID"))
	setString(&c.Tencent.SecretKey, os.Getenv("TENCENTCLOUD_SECRET_KEY"))
	setString(&c.Redis.Password, os.Getenv("REDIS_PASSWORD"))
}
