package transports

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adiwarsita/kirana/pkg/adapters/recognizer"
	"github.com/adiwarsita/kirana/pkg/errorsx"
	"github.com/adiwarsita/kirana/pkg/frames"
	"github.com/adiwarsita/kirana/pkg/turn"
)

// Pump forwards caller audio from a transport into a recognizer until the
// context ends or the transport's receive channel closes. Non-audio frames
// are passed to onSignal when set.
func Pump(ctx context.Context, tr Transport, rec recognizer.StreamingRecognizer, onSignal func(frames.Frame), log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-tr.Recv():
			if !ok {
				return
			}
			if af, isAudio := f.(frames.AudioFrame); isAudio {
				if err := rec.SendAudio(af); err != nil {
					log.Warn("bridge_audio_forward_failed", "error", err.Error())
				}
				continue
			}
			if onSignal != nil {
				onSignal(f)
			}
		}
	}
}

// Player renders agent audio by writing clips back onto a transport. The
// transport addresses outbound frames by the media stream id it learned
// from the wire, not by the engine's session id, so the player stays
// unbound until HandleSignal sees a call_start and re-stamps every clip
// with the live stream. Play paces itself on the clip's PCM duration so
// the queue's one-clip-at-a-time contract holds over a fire-and-forget
// wire.
type Player struct {
	tr Transport

	mu       sync.Mutex
	streamID string
}

func NewPlayer(tr Transport) *Player {
	return &Player{tr: tr}
}

func (p *Player) Name() string { return "transport" }

func (p *Player) Start(ctx context.Context) error { return nil }

func (p *Player) Close() error { return nil }

// Stream returns the bound media stream id, empty when no call is live.
func (p *Player) Stream() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamID
}

// SetStream binds the player to a media stream.
func (p *Player) SetStream(id string) {
	p.mu.Lock()
	p.streamID = id
	p.mu.Unlock()
}

// HandleSignal tracks the live media stream from transport lifecycle
// frames. Wire it as the Pump onSignal callback: call_start and
// call_reconnect move the binding, call_end for the bound stream clears
// it.
func (p *Player) HandleSignal(f frames.Frame) {
	sys, ok := f.(frames.SystemFrame)
	if !ok {
		return
	}
	id := sys.Meta()[frames.MetaStreamID]
	switch sys.Name() {
	case "call_start", "call_reconnect":
		p.SetStream(id)
	case "call_end":
		p.mu.Lock()
		if p.streamID == id {
			p.streamID = ""
		}
		p.mu.Unlock()
	}
}

func (p *Player) Play(ctx context.Context, clip frames.AudioFrame) error {
	stream := p.Stream()
	if stream == "" {
		return errorsx.Wrap(errors.New("no media stream bound"), errorsx.ReasonTransportSend)
	}
	meta := clip.Meta()
	meta[frames.MetaStreamID] = stream
	out := frames.NewAudioFrame(stream, clip.PTS(), clip.RawPayload(), clip.Rate(), clip.Channels(), meta)
	if err := p.tr.Send(out); err != nil {
		return err
	}
	d := clipDuration(clip)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		// Interrupted mid-clip; tell the transport to drop buffered audio.
		_ = p.tr.Send(turn.NewInterruptFrame(stream, clip.PTS()))
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func clipDuration(clip frames.AudioFrame) time.Duration {
	rate := clip.Rate()
	ch := clip.Channels()
	if rate <= 0 {
		return 0
	}
	if ch <= 0 {
		ch = 1
	}
	n := len(clip.RawPayload())
	// Clips arrive WAV-wrapped; skip the 44-byte header when present.
	if n > 44 {
		n -= 44
	}
	samples := n / (2 * ch)
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
