package main

import (
	"log/slog"

	"github.com/MrWong99/wakegate/internal/config"
	"github.com/MrWong99/wakegate/pkg/recognizer"
	"github.com/MrWong99/wakegate/pkg/recognizer/vosk"
	"github.com/MrWong99/wakegate/pkg/recognizer/whisper"
)

// registerBuiltinEngines wires the engines that ship with wakegate into reg.
func registerBuiltinEngines(reg *config.Registry) {
	reg.Register(vosk.EngineName, func(entry config.EngineEntry) (recognizer.Engine, error) {
		return vosk.Open(entry.ModelPath)
	})

	reg.Register(whisper.EngineName, func(entry config.EngineEntry) (recognizer.Engine, error) {
		var opts []whisper.Option
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if ms, ok := optInt(entry.Options, "silence_threshold_ms"); ok {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		if ms, ok := optInt(entry.Options, "max_buffer_ms"); ok {
			opts = append(opts, whisper.WithMaxBufferDurationMs(ms))
		}
		if rms, ok := optFloat(entry.Options, "rms_threshold"); ok {
			opts = append(opts, whisper.WithRMSThreshold(rms))
		}
		return whisper.Open(entry.ModelPath, opts...)
	})

	for _, name := range reg.Names() {
		slog.Debug("registered recognizer engine", "name", name)
	}
}

// optInt extracts an integer from an engine Options map. YAML decodes
// whole numbers as int and the rest as float64.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// optFloat extracts a number from an engine Options map.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
