package playback

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adiwarsita/kirana/pkg/adapters/player"
	"github.com/adiwarsita/kirana/pkg/frames"
	"github.com/adiwarsita/kirana/pkg/turn"
)

// QueueConfig tunes chunk playback.
type QueueConfig struct {
	SessionID string
	// Rate is the PCM sample rate of incoming chunks.
	Rate int
	// Gap is the pause inserted between consecutive chunks.
	Gap time.Duration
	// FadeInMS and FadeOutTo are fade hints forwarded to the player in
	// frame meta; players that cannot fade ignore them.
	FadeInMS  int
	FadeOutTo float64
	// Buffer caps how many chunks may be queued before drops.
	Buffer int
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Rate <= 0 {
		c.Rate = 16000
	}
	if c.Gap <= 0 {
		c.Gap = 10 * time.Millisecond
	}
	if c.FadeInMS <= 0 {
		c.FadeInMS = 50
	}
	if c.FadeOutTo <= 0 {
		c.FadeOutTo = 0.7
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	return c
}

// Queue plays agent audio chunks strictly in arrival order, one at a time.
// A single drain goroutine wraps each chunk in a WAV header, arms the
// interruption gate by chunk position, and hands the clip to the player.
// Playback and decode errors are logged and the queue advances.
type Queue struct {
	cfg    QueueConfig
	player player.Player
	gate   *turn.Gate
	sink   func(frames.Frame)
	log    *slog.Logger

	ch      chan frames.AudioFrame
	playing atomic.Bool

	mu         sync.Mutex
	cancelPlay context.CancelFunc
	chunkIndex int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewQueue(cfg QueueConfig, p player.Player, gate *turn.Gate, log *slog.Logger) *Queue {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	if gate == nil {
		gate = turn.NewGate()
	}
	return &Queue{
		cfg:    cfg,
		player: p,
		gate:   gate,
		log:    log,
		ch:     make(chan frames.AudioFrame, cfg.Buffer),
		done:   make(chan struct{}),
	}
}

// SetSink registers a callback receiving playback lifecycle control frames
// (audio_ready per chunk start, audio_done when a drain sequence ends).
func (q *Queue) SetSink(sink func(frames.Frame)) {
	q.sink = sink
}

// Gate exposes the interruption gate this queue arms.
func (q *Queue) Gate() *turn.Gate { return q.gate }

func (q *Queue) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	if err := q.player.Start(runCtx); err != nil {
		cancel()
		return err
	}
	q.ctx, q.cancel = runCtx, cancel
	go q.drain()
	return nil
}

func (q *Queue) Stop() error {
	if q.cancel == nil {
		return nil
	}
	q.cancel()
	q.Interrupt()
	<-q.done
	return nil
}

// Playing reports whether a chunk is currently being rendered.
func (q *Queue) Playing() bool { return q.playing.Load() }

// Pending returns the number of queued, not-yet-played chunks.
func (q *Queue) Pending() int { return len(q.ch) }

// Enqueue appends one PCM chunk. Drops with a warning when the buffer is
// full; a lagging player should not block the session read loop.
func (q *Queue) Enqueue(f frames.AudioFrame) {
	select {
	case q.ch <- f:
	default:
		frames.ReleaseAudioFrame(f)
		q.log.Warn("playback_queue_full", "session_id", q.cfg.SessionID)
	}
}

// Interrupt stops the active chunk, empties the queue, closes the gate, and
// resets the drain sequence.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	if q.cancelPlay != nil {
		q.cancelPlay()
		q.cancelPlay = nil
	}
	q.chunkIndex = 0
	q.mu.Unlock()
	q.gate.Close()

drainLoop:
	for {
		select {
		case f := <-q.ch:
			frames.ReleaseAudioFrame(f)
		default:
			break drainLoop
		}
	}
}

func (q *Queue) drain() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			return
		case f := <-q.ch:
			q.playOne(f)
			if q.ctx.Err() != nil {
				return
			}
			if len(q.ch) == 0 {
				q.endSequence()
			} else {
				time.Sleep(q.cfg.Gap)
			}
		}
	}
}

func (q *Queue) playOne(f frames.AudioFrame) {
	q.mu.Lock()
	idx := q.chunkIndex
	q.chunkIndex++
	playCtx, cancel := context.WithCancel(q.ctx)
	q.cancelPlay = cancel
	q.mu.Unlock()
	defer cancel()

	q.gate.ArmForChunk(idx)
	q.playing.Store(true)
	defer q.playing.Store(false)

	rate := f.Rate()
	if rate <= 0 {
		rate = q.cfg.Rate
	}
	meta := f.Meta()
	meta[frames.MetaChunkIndex] = strconv.Itoa(idx)
	meta[frames.MetaFadeInMS] = strconv.Itoa(q.cfg.FadeInMS)
	meta[frames.MetaFadeOutTo] = strconv.FormatFloat(q.cfg.FadeOutTo, 'f', 2, 64)
	clip := frames.NewAudioFrame(q.cfg.SessionID, f.PTS(), WrapPCM16(f.RawPayload(), rate, f.Channels()), rate, f.Channels(), meta)

	q.notify(frames.NewControlFrame(q.cfg.SessionID, f.PTS(), frames.ControlAudioReady, map[string]string{
		frames.MetaChunkIndex: strconv.Itoa(idx),
	}))

	if err := q.player.Play(playCtx, clip); err != nil && playCtx.Err() == nil {
		q.log.Error("playback_chunk_error",
			"session_id", q.cfg.SessionID,
			"chunk_index", idx,
			"error", err.Error())
	}
	frames.ReleaseAudioFrame(f)
}

func (q *Queue) endSequence() {
	q.mu.Lock()
	ended := q.chunkIndex > 0
	q.chunkIndex = 0
	q.mu.Unlock()
	q.gate.Close()
	if ended {
		q.notify(frames.NewControlFrame(q.cfg.SessionID, time.Now().UnixNano(), frames.ControlAudioDone, nil))
	}
}

func (q *Queue) notify(f frames.Frame) {
	if q.sink != nil {
		q.sink(f)
	}
}
