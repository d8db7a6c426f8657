// Package config builds the player configuration once at startup from
// defaults, an optional TOML file, and REWIND_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/zsiec/rewind/internal/media"
)

// EnvPrefix is the prefix of environment variables overriding config keys:
// queue.max_bytes is read from REWIND_QUEUE_MAX_BYTES.
const EnvPrefix = "rewind"

// EnvKeyReplacer maps config keys to environment variable names.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// Config is the complete player configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Queue  QueueConfig  `mapstructure:"queue"`
	Ring   RingConfig   `mapstructure:"ring"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Player PlayerConfig `mapstructure:"player"`
	Audio  AudioConfig  `mapstructure:"audio"`
	SRT    SRTConfig    `mapstructure:"srt"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// QueueConfig bounds the packet and frame queues.
type QueueConfig struct {
	MaxBytes       int           `mapstructure:"max_bytes"`
	MaxPackets     int           `mapstructure:"max_packets"`
	MinFrames      int           `mapstructure:"min_frames"`
	MinDuration    time.Duration `mapstructure:"min_duration"`
	AudioFrames    int           `mapstructure:"audio_frames"`
	SubtitleFrames int           `mapstructure:"subtitle_frames"`
}

// RingConfig sizes the bidirectional video buffer.
type RingConfig struct {
	Capacity   int `mapstructure:"capacity"`
	MaxReverse int `mapstructure:"max_reverse"`
}

// SyncConfig holds the audio/video synchronization constants, in seconds
// unless noted.
type SyncConfig struct {
	// Master is "audio", "video" or "external".
	Master             string  `mapstructure:"master"`
	MinThreshold       float64 `mapstructure:"min_threshold"`
	MaxThreshold       float64 `mapstructure:"max_threshold"`
	FramedupThreshold  float64 `mapstructure:"framedup_threshold"`
	NoSyncThreshold    float64 `mapstructure:"nosync_threshold"`
	AudioDiffAvgNB     int     `mapstructure:"audio_diff_avg_nb"`
	SampleCorrectionPc int     `mapstructure:"sample_correction_percent"`
}

// PlayerConfig controls the orchestration loops.
type PlayerConfig struct {
	FullPoll    time.Duration `mapstructure:"full_poll"`
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
	FrameDrop   bool          `mapstructure:"frame_drop"`
	StartPaused bool          `mapstructure:"start_paused"`
	Speed       float64       `mapstructure:"speed"`
	Loop        bool          `mapstructure:"loop"`
	AutoExit    bool          `mapstructure:"auto_exit"`
}

// AudioConfig is the output format requested from the audio sink.
type AudioConfig struct {
	Disabled       bool `mapstructure:"disabled"`
	SampleRate     int  `mapstructure:"sample_rate"`
	Channels       int  `mapstructure:"channels"`
	BytesPerSample int  `mapstructure:"bytes_per_sample"`
	BufferSamples  int  `mapstructure:"buffer_samples"`
}

// SRTConfig is used when the input is an srt:// URL.
type SRTConfig struct {
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	StreamID    string        `mapstructure:"stream_id"`
}

// Defaults maps every config key to its default value.
var Defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"queue.max_bytes":       15 * 1024 * 1024,
	"queue.max_packets":     1024,
	"queue.min_frames":      25,
	"queue.min_duration":    time.Second,
	"queue.audio_frames":    media.AudioQueueSize,
	"queue.subtitle_frames": media.SubtitleQueueSize,

	"ring.capacity":    16,
	"ring.max_reverse": 8,

	"sync.master":                    "audio",
	"sync.min_threshold":             0.04,
	"sync.max_threshold":             0.1,
	"sync.framedup_threshold":        0.1,
	"sync.nosync_threshold":          10.0,
	"sync.audio_diff_avg_nb":         20,
	"sync.sample_correction_percent": 10,

	"player.full_poll":    10 * time.Millisecond,
	"player.refresh_rate": 10 * time.Millisecond,
	"player.frame_drop":   true,
	"player.start_paused": false,
	"player.speed":        1.0,
	"player.loop":         false,
	"player.auto_exit":    false,

	"audio.disabled":         false,
	"audio.sample_rate":      48000,
	"audio.channels":         2,
	"audio.bytes_per_sample": 2,
	"audio.buffer_samples":   1024,

	"srt.dial_timeout": 10 * time.Second,
	"srt.stream_id":    "",
}

// Setup prepares v: defaults, environment binding, and the filesystem and
// search path for the config file. An explicit path wins over the search.
func Setup(v *viper.Viper, fs afero.Fs, path string) {
	v.SetFs(fs)
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rewind")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/rewind")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(EnvKeyReplacer)
	v.AutomaticEnv()

	v.SetTypeByDefaultValue(true)
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}
}

// Load reads the config file, if any, and decodes v into a validated
// Config. A missing config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration built from Defaults alone.
func Default() *Config {
	v := viper.New()
	Setup(v, afero.NewMemMapFs(), "")
	cfg, err := Load(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Queue.MaxBytes < 1 || c.Queue.MaxPackets < 1 {
		errs = append(errs, fmt.Errorf("queue bounds must be positive"))
	}
	if c.Queue.AudioFrames < 1 || c.Queue.SubtitleFrames < 1 {
		errs = append(errs, fmt.Errorf("frame queue sizes must be positive"))
	}
	if c.Ring.Capacity < 3 {
		errs = append(errs, fmt.Errorf("ring.capacity %d, need at least 3", c.Ring.Capacity))
	}
	if c.Ring.MaxReverse < 1 || c.Ring.MaxReverse > c.Ring.Capacity/2 {
		errs = append(errs, fmt.Errorf("ring.max_reverse %d out of range [1, %d]", c.Ring.MaxReverse, c.Ring.Capacity/2))
	}
	switch c.Sync.Master {
	case "audio", "video", "external":
	default:
		errs = append(errs, fmt.Errorf("sync.master %q, want audio, video or external", c.Sync.Master))
	}
	if c.Sync.MinThreshold > c.Sync.MaxThreshold {
		errs = append(errs, fmt.Errorf("sync.min_threshold above sync.max_threshold"))
	}
	if c.Sync.AudioDiffAvgNB < 1 {
		errs = append(errs, fmt.Errorf("sync.audio_diff_avg_nb must be positive"))
	}
	if c.Sync.SampleCorrectionPc < 0 || c.Sync.SampleCorrectionPc > 100 {
		errs = append(errs, fmt.Errorf("sync.sample_correction_percent %d out of range", c.Sync.SampleCorrectionPc))
	}
	if c.Player.Speed == 0 {
		errs = append(errs, fmt.Errorf("player.speed must be non-zero"))
	}
	if c.Player.FullPoll <= 0 || c.Player.RefreshRate <= 0 {
		errs = append(errs, fmt.Errorf("player poll intervals must be positive"))
	}
	if c.Audio.SampleRate < 1 || c.Audio.Channels < 1 || c.Audio.BytesPerSample < 1 {
		errs = append(errs, fmt.Errorf("audio format must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
