package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// KnownEngines lists the engine names shipped with wakegate. Used by
// [Validate] to warn about unrecognised engine names.
var KnownEngines = []string{"vosk", "whisper"}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WAKEGATE_"

// LookupFunc looks up an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads the YAML configuration file at path, applies environment
// overrides from lookup (nil skips them) and validates the result.
func Load(path string, lookup LookupFunc) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := load(f, lookup)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return load(r, nil)
}

func load(r io.Reader, lookup LookupFunc) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnvLookup returns a [LookupFunc] that consults the process environment
// first and then the dotenv file at path. A missing file is not an error.
// The process environment is not modified.
func EnvLookup(path string) (LookupFunc, error) {
	var file map[string]string
	if path != "" {
		m, err := godotenv.Read(path)
		switch {
		case err == nil:
			file = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read env file %q: %w", path, err)
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}, nil
}

// ApplyEnv overrides cfg fields from WAKEGATE_* variables:
//
//	WAKEGATE_LOG_LEVEL, WAKEGATE_DEVICE, WAKEGATE_INPUT,
//	WAKEGATE_ENGINE, WAKEGATE_MODEL_PATH, WAKEGATE_LANGUAGE,
//	WAKEGATE_PHRASES (comma separated), WAKEGATE_COOLDOWN,
//	WAKEGATE_MIN_UTTERANCE_RMS, WAKEGATE_TIMEOUT,
//	WAKEGATE_JOURNAL_PATH, WAKEGATE_STATUS_ADDR
//
// Values that fail to parse are reported together.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = d
	}

	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		cfg.LogLevel = LogLevel(strings.ToLower(v))
	}
	str("DEVICE", &cfg.Audio.Device)
	str("INPUT", &cfg.Audio.Input)
	str("ENGINE", &cfg.Recognizer.Engine)
	str("MODEL_PATH", &cfg.Recognizer.ModelPath)
	str("LANGUAGE", &cfg.Recognizer.Language)
	str("JOURNAL_PATH", &cfg.Journal.Path)
	str("STATUS_ADDR", &cfg.Status.ListenAddr)
	dur("COOLDOWN", &cfg.Gate.Cooldown)
	dur("TIMEOUT", &cfg.Detector.Timeout)

	if v, ok := lookup(EnvPrefix + "PHRASES"); ok {
		var phrases []string
		for p := range strings.SplitSeq(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				phrases = append(phrases, p)
			}
		}
		cfg.Gate.Phrases = phrases
	}
	if v, ok := lookup(EnvPrefix + "MIN_UTTERANCE_RMS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMIN_UTTERANCE_RMS: %w", EnvPrefix, err))
		} else {
			cfg.Gate.MinUtteranceRMS = f
		}
	}
	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", a.SampleRate))
	}
	if a.Channels < 1 || a.Channels > 8 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 8]", a.Channels))
	}
	if a.ChunkDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_duration must be positive, got %s", a.ChunkDuration))
	}
	if a.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("audio.queue_capacity must be at least 1, got %d", a.QueueCapacity))
	}
	if a.StopGrace < 0 {
		errs = append(errs, fmt.Errorf("audio.stop_grace must not be negative, got %s", a.StopGrace))
	}
	if a.Input == "" && a.Command == "" {
		errs = append(errs, errors.New("audio.command is required when audio.input is empty"))
	}

	// Recognizer
	if cfg.Recognizer.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("recognizer.sample_rate must be positive, got %d", cfg.Recognizer.SampleRate))
	}
	errs = append(errs, validateEngine("recognizer", cfg.Recognizer.EngineEntry)...)
	for i, fb := range cfg.Recognizer.Fallbacks {
		errs = append(errs, validateEngine(fmt.Sprintf("recognizer.fallbacks[%d]", i), fb)...)
	}

	// Gate
	g := cfg.Gate
	if len(g.Phrases) == 0 {
		errs = append(errs, errors.New("gate.phrases must list at least one wake phrase"))
	}
	seen := make(map[string]int, len(g.Phrases))
	for i, p := range g.Phrases {
		key := strings.TrimSpace(p)
		if key == "" {
			errs = append(errs, fmt.Errorf("gate.phrases[%d] is empty", i))
			continue
		}
		if g.CaseInsensitive {
			key = strings.ToLower(key)
		}
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("gate.phrases[%d] %q is a duplicate of gate.phrases[%d]", i, p, prev))
		}
		seen[key] = i
	}
	if g.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("gate.cooldown must not be negative, got %s", g.Cooldown))
	}
	errs = appendUnit(errs, "gate.min_word_confidence", g.MinWordConfidence)
	errs = appendUnit(errs, "gate.min_avg_confidence", g.MinAvgConfidence)
	if g.MinUtteranceRMS < 0 || g.MinUtteranceRMS > 32768 {
		errs = append(errs, fmt.Errorf("gate.min_utterance_rms %.1f is out of range [0, 32768]", g.MinUtteranceRMS))
	}

	// Detector
	d := cfg.Detector
	if d.Timeout < 0 {
		errs = append(errs, fmt.Errorf("detector.timeout must not be negative, got %s", d.Timeout))
	}
	if d.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("detector.poll_timeout must be positive, got %s", d.PollTimeout))
	}
	if d.JoinTimeout <= 0 {
		errs = append(errs, fmt.Errorf("detector.join_timeout must be positive, got %s", d.JoinTimeout))
	}
	errs = appendUnit(errs, "detector.near_miss_threshold", d.NearMissThreshold)
	if d.CaptureMaxFailures < 1 {
		errs = append(errs, fmt.Errorf("detector.capture_max_failures must be at least 1, got %d", d.CaptureMaxFailures))
	}
	if d.CaptureBackoff < 0 {
		errs = append(errs, fmt.Errorf("detector.capture_backoff must not be negative, got %s", d.CaptureBackoff))
	}
	if cfg.Journal.Retention < 0 {
		errs = append(errs, fmt.Errorf("journal.retention must not be negative, got %s", cfg.Journal.Retention))
	}

	return errors.Join(errs...)
}

func validateEngine(prefix string, e EngineEntry) []error {
	if e.Engine == "" {
		return []error{fmt.Errorf("%s.engine is required", prefix)}
	}
	if !slices.Contains(KnownEngines, e.Engine) {
		slog.Warn("unknown recognizer engine, may be a typo or a custom registration",
			"field", prefix+".engine",
			"name", e.Engine,
			"known", KnownEngines,
		)
	}
	if e.ModelPath == "" {
		return []error{fmt.Errorf("%s.model_path is required", prefix)}
	}
	return nil
}

func appendUnit(errs []error, field string, v float64) []error {
	if v < 0 || v > 1 {
		return append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", field, v))
	}
	return errs
}
