package mock

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/adiwarsita/kirana/pkg/adapters/recognizer"
	"github.com/adiwarsita/kirana/pkg/frames"
)

type RecognizerConfig struct {
	SessionID string
	// Script holds utterances emitted, one per SendAudio call, as an interim
	// frame followed by a final frame sharing the same result index.
	Script      []string
	EmitInterim bool
}

// Recognizer is a scripted speech recognizer for tests and offline demos.
// EmitText pushes ad hoc results regardless of the script.
type Recognizer struct {
	cfg    RecognizerConfig
	out    chan frames.Frame
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	cursor  int
	nextIdx int
}

func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	return &Recognizer{cfg: cfg, out: make(chan frames.Frame, 32)}
}

func (r *Recognizer) Name() string { return "mock_recognizer" }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	return nil
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	if r.out != nil {
		close(r.out)
		r.out = nil
	}
	r.started = false
	return nil
}

func (r *Recognizer) SendAudio(frames.AudioFrame) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return errors.New("not started")
	}
	if r.cursor >= len(r.cfg.Script) {
		r.mu.Unlock()
		return nil
	}
	text := r.cfg.Script[r.cursor]
	r.cursor++
	r.mu.Unlock()

	if r.cfg.EmitInterim {
		r.EmitText(text, false)
	}
	r.EmitText(text, true)
	return nil
}

// EmitText publishes one recognition result. Final results consume a result
// index; interims reuse the upcoming one.
func (r *Recognizer) EmitText(text string, final bool) {
	r.mu.Lock()
	if r.out == nil {
		r.mu.Unlock()
		return
	}
	idx := r.nextIdx
	if final {
		r.nextIdx++
	}
	out := r.out
	r.mu.Unlock()

	meta := map[string]string{
		frames.MetaSource:      "recognizer",
		frames.MetaIsFinal:     strconv.FormatBool(final),
		frames.MetaResultIndex: strconv.Itoa(idx),
	}
	out <- frames.NewTextFrame(r.cfg.SessionID, time.Now().UnixNano(), text, meta)
}

// EmitSignal publishes a lifecycle signal the way a real vendor adapter
// reports recognition errors.
func (r *Recognizer) EmitSignal(name, reason, userMessage string) {
	r.mu.Lock()
	out := r.out
	r.mu.Unlock()
	if out == nil {
		return
	}
	meta := map[string]string{
		frames.MetaSource: "recognizer",
		frames.MetaReason: reason,
	}
	if userMessage != "" {
		meta["user_message"] = userMessage
	}
	out <- frames.NewSystemFrame(r.cfg.SessionID, time.Now().UnixNano(), name, meta)
}

func (r *Recognizer) Results() <-chan frames.Frame { return r.out }

var _ recognizer.StreamingRecognizer = (*Recognizer)(nil)
