//go:build !vosk

package vosk

import (
	"fmt"

	"github.com/MrWong99/wakegate/pkg/recognizer"
)

// Engine is unavailable in builds without the "vosk" tag.
type Engine struct{}

// Open always fails in builds without the "vosk" tag.
func Open(string) (*Engine, error) {
	return nil, fmt.Errorf("vosk: built without the vosk tag: %w", recognizer.ErrNotSupported)
}

// Name implements recognizer.Engine.
func (*Engine) Name() string { return EngineName }

// NewRecognizer implements recognizer.Engine.
func (*Engine) NewRecognizer(recognizer.Config) (recognizer.Recognizer, error) {
	return nil, recognizer.ErrNotSupported
}

// Close implements recognizer.Engine.
func (*Engine) Close() error { return nil }

var _ recognizer.Engine = (*Engine)(nil)
