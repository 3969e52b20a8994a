// Package config provides the configuration schema, loader, file watcher and
// recognizer engine registry for wakegate.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a slog level. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for wakegate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel   LogLevel         `yaml:"log_level"`
	Audio      AudioConfig      `yaml:"audio"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Gate       GateConfig       `yaml:"gate"`
	Detector   DetectorConfig   `yaml:"detector"`
	Journal    JournalConfig    `yaml:"journal"`
	Status     StatusConfig     `yaml:"status"`
}

// AudioConfig describes the capture side.
type AudioConfig struct {
	// Device is the ALSA capture device passed to the capture command.
	Device string `yaml:"device"`

	// Command is the raw PCM capture program. Default: arecord.
	Command string `yaml:"command"`

	// Args replaces the generated arecord arguments when set.
	Args []string `yaml:"args"`

	// Input reads raw PCM from a file instead of running Command. "-" reads
	// standard input.
	Input string `yaml:"input"`

	SampleRate    int           `yaml:"sample_rate"`
	Channels      int           `yaml:"channels"`
	ChunkDuration time.Duration `yaml:"chunk_duration"`
	QueueCapacity int           `yaml:"queue_capacity"`

	// StopGrace is how long the capture process may take to exit after
	// SIGTERM before it is killed.
	StopGrace time.Duration `yaml:"stop_grace"`
}

// EngineEntry selects and configures one recognizer engine. Engine is used to
// look up the constructor in the [Registry].
type EngineEntry struct {
	// Engine names a registered engine ("vosk", "whisper").
	Engine string `yaml:"engine"`

	// ModelPath is the model directory (vosk) or file (whisper).
	ModelPath string `yaml:"model_path"`

	// Language is a language hint for engines that use one.
	Language string `yaml:"language"`

	// Options holds engine-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// RecognizerConfig selects the primary engine, its optional fallbacks and
// the rate the recognizer is fed.
type RecognizerConfig struct {
	EngineEntry `yaml:",inline"`

	// SampleRate is the recognizer input rate. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Fallbacks are tried in order when the primary cannot create a
	// recognizer.
	Fallbacks []EngineEntry `yaml:"fallbacks"`
}

// GateConfig holds the wake phrases and acceptance thresholds.
type GateConfig struct {
	Phrases           []string      `yaml:"phrases"`
	CaseInsensitive   bool          `yaml:"case_insensitive"`
	Cooldown          time.Duration `yaml:"cooldown"`
	MinWordConfidence float64       `yaml:"min_word_confidence"`
	MinAvgConfidence  float64       `yaml:"min_avg_confidence"`
	MinUtteranceRMS   float64       `yaml:"min_utterance_rms"`
}

// DetectorConfig tunes the run loop.
type DetectorConfig struct {
	// Timeout bounds one run. Zero waits until cancelled.
	Timeout     time.Duration `yaml:"timeout"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	JoinTimeout time.Duration `yaml:"join_timeout"`

	// DebugRejects logs rejected utterances at info level.
	DebugRejects bool `yaml:"debug_rejects"`

	// NearMissThreshold is the similarity above which rejected text is
	// annotated with the closest wake phrase.
	NearMissThreshold float64 `yaml:"near_miss_threshold"`

	// CaptureMaxFailures consecutive capture failures pause the listener
	// for CaptureBackoff.
	CaptureMaxFailures int           `yaml:"capture_max_failures"`
	CaptureBackoff     time.Duration `yaml:"capture_backoff"`
}

// JournalConfig configures the SQLite detection journal.
type JournalConfig struct {
	// Path is the database file. Empty disables the journal.
	Path string `yaml:"path"`

	// Retention drops entries older than this when the journal opens. Zero
	// keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// StatusConfig configures the HTTP status server.
type StatusConfig struct {
	// ListenAddr is the TCP address (e.g. ":9464"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config with every default applied. Decoding a YAML file
// over it keeps the defaults for omitted keys.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Audio: AudioConfig{
			Command:       "arecord",
			SampleRate:    48000,
			Channels:      2,
			ChunkDuration: 20 * time.Millisecond,
			QueueCapacity: 100,
			StopGrace:     2 * time.Second,
		},
		Recognizer: RecognizerConfig{
			EngineEntry: EngineEntry{Engine: "vosk", Language: "en"},
			SampleRate:  16000,
		},
		Gate: GateConfig{
			Cooldown:          time.Second,
			MinWordConfidence: 0.70,
			MinAvgConfidence:  0.80,
			MinUtteranceRMS:   350,
		},
		Detector: DetectorConfig{
			PollTimeout:        200 * time.Millisecond,
			JoinTimeout:        3 * time.Second,
			DebugRejects:       true,
			NearMissThreshold:  0.80,
			CaptureMaxFailures: 5,
			CaptureBackoff:     30 * time.Second,
		},
	}
}
