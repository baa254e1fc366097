package recognizer

import (
	"context"

	"github.com/adiwarsita/kirana/pkg/frames"
)

// StreamingRecognizer defines the contract for any speech recognition vendor.
// Results carries interim and final TextFrames (MetaIsFinal, MetaResultIndex,
// MetaConfidence) plus ControlFrames for recognizer lifecycle signals.
type StreamingRecognizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start opens the recognition stream.
	Start(ctx context.Context) error
	// Close shuts down the recognition stream.
	Close() error
	// SendAudio feeds captured audio into the recognizer.
	SendAudio(frame frames.AudioFrame) error
	// Results returns a channel of recognition/control frames.
	Results() <-chan frames.Frame
}

// Config contains vendor-agnostic recognizer configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Language   string
	Interim    bool
}
