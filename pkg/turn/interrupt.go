package turn

import "github.com/adiwarsita/kirana/pkg/frames"

// NewInterruptFrame tells downstream audio consumers to stop rendering the
// current clip and drop anything buffered for the stream.
func NewInterruptFrame(streamID string, pts int64) frames.ControlFrame {
	return frames.NewControlFrame(streamID, pts, frames.ControlStartInterruption, map[string]string{
		frames.MetaStreamID: streamID,
	})
}
