package player

import (
	"context"

	"github.com/adiwarsita/kirana/pkg/frames"
)

// Player defines the contract for audio playback sinks. Play blocks until
// the clip finishes or ctx is cancelled; the playback queue relies on this
// to serialize chunks.
type Player interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start prepares the output device or sink.
	Start(ctx context.Context) error
	// Close releases the sink.
	Close() error
	// Play renders one WAV-wrapped clip to completion.
	Play(ctx context.Context, clip frames.AudioFrame) error
}
