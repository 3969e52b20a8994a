package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs and whether the
// change can be applied to the next detector run or needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GateChanged and DetectorChanged apply from the next run.
	GateChanged     bool
	DetectorChanged bool

	// RestartRequired lists sections that are only read at startup.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.GateChanged || d.DetectorChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	d.GateChanged = !gateEqual(old.Gate, new.Gate)
	d.DetectorChanged = old.Detector != new.Detector

	if !audioEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !recognizerEqual(old.Recognizer, new.Recognizer) {
		d.RestartRequired = append(d.RestartRequired, "recognizer")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}
	if old.Status != new.Status {
		d.RestartRequired = append(d.RestartRequired, "status")
	}
	return d
}

func gateEqual(a, b GateConfig) bool {
	return slices.Equal(a.Phrases, b.Phrases) &&
		a.CaseInsensitive == b.CaseInsensitive &&
		a.Cooldown == b.Cooldown &&
		a.MinWordConfidence == b.MinWordConfidence &&
		a.MinAvgConfidence == b.MinAvgConfidence &&
		a.MinUtteranceRMS == b.MinUtteranceRMS
}

func audioEqual(a, b AudioConfig) bool {
	return a.Device == b.Device &&
		a.Command == b.Command &&
		slices.Equal(a.Args, b.Args) &&
		a.Input == b.Input &&
		a.SampleRate == b.SampleRate &&
		a.Channels == b.Channels &&
		a.ChunkDuration == b.ChunkDuration &&
		a.QueueCapacity == b.QueueCapacity &&
		a.StopGrace == b.StopGrace
}

func engineEqual(a, b EngineEntry) bool {
	return a.Engine == b.Engine && a.ModelPath == b.ModelPath &&
		a.Language == b.Language && reflect.DeepEqual(a.Options, b.Options)
}

func recognizerEqual(a, b RecognizerConfig) bool {
	return engineEqual(a.EngineEntry, b.EngineEntry) &&
		a.SampleRate == b.SampleRate &&
		slices.EqualFunc(a.Fallbacks, b.Fallbacks, engineEqual)
}
