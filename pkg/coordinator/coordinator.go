package coordinator

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/adiwarsita/kirana/pkg/adapters/recognizer"
	"github.com/adiwarsita/kirana/pkg/frames"
	"github.com/adiwarsita/kirana/pkg/metrics"
	"github.com/adiwarsita/kirana/pkg/playback"
	"github.com/adiwarsita/kirana/pkg/redact"
	"github.com/adiwarsita/kirana/pkg/transcript"
	"github.com/adiwarsita/kirana/pkg/turn"
)

// Session is the agent-side connection the coordinator drives. Satisfied by
// convai.Client.
type Session interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	SendInit() error
	SendUserMessage(text string) error
	SendInterruption() error
	Events() <-chan frames.Frame
}

// Config tunes one coordinated session.
type Config struct {
	SessionID string
	Completer transcript.CompleterOptions
}

// Coordinator owns one voice session end to end: the agent connection, the
// speech recognizer, the turn state machine, the transcript completer, and
// the playback queue. All mutations run on a single reducer goroutine fed by
// tagged events, so there is exactly one writer for every piece of session
// state.
type Coordinator struct {
	cfg   Config
	sess  Session
	rec   recognizer.StreamingRecognizer
	queue *playback.Queue
	fsm   *turn.Machine
	comp  *transcript.Completer
	obs   metrics.Observer
	log   *slog.Logger

	events chan event

	mu         sync.RWMutex
	messages   []ChatMessage
	liveText   string
	lastError  string
	recRunning bool

	// Set when a finalized utterance goes out, cleared by the first agent
	// text / first played chunk of the reply. Drives first-response latency
	// metrics.
	awaitResponse bool
	awaitAudio    bool

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(cfg Config, sess Session, rec recognizer.StreamingRecognizer, queue *playback.Queue, obs metrics.Observer, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	c := &Coordinator{
		cfg:    cfg,
		sess:   sess,
		rec:    rec,
		queue:  queue,
		fsm:    turn.NewMachine(),
		obs:    obs,
		log:    log,
		events: make(chan event, 256),
		done:   make(chan struct{}),
	}
	c.comp = transcript.NewCompleter(transcript.NewBuffer(), cfg.Completer, func(text string) {
		c.push(event{kind: evUtterance, text: text})
	})
	return c
}

// Machine exposes the turn state machine for listeners.
func (c *Coordinator) Machine() *turn.Machine { return c.fsm }

// State returns the current turn state.
func (c *Coordinator) State() turn.State { return c.fsm.State() }

// Start launches the reducer and the playback queue. It does not connect;
// call Connect for that.
func (c *Coordinator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true

	c.queue.SetSink(func(f frames.Frame) {
		c.push(event{kind: evPlayback, frame: f})
	})
	if err := c.queue.Start(c.ctx); err != nil {
		return err
	}

	go c.pump(c.sess.Events(), evSession)
	go c.pump(c.rec.Results(), evRecognition)
	go c.reduce()
	return nil
}

// Stop tears the session down: playback, recognizer, agent connection, and
// the reducer itself. Safe to call more than once.
func (c *Coordinator) Stop() error {
	if !c.started {
		return nil
	}
	c.started = false
	c.comp.Stop()
	c.cancel()
	<-c.done
	_ = c.queue.Stop()
	if c.recRunning {
		_ = c.rec.Close()
	}
	return c.sess.Close()
}

// Connect opens the agent session. Recognition starts once the session
// reports open, before the conversation initiation message goes out.
func (c *Coordinator) Connect() error {
	return c.command(cmdConnect, "")
}

// Disconnect closes the agent session and stops capture; the coordinator
// stays usable for a later Connect.
func (c *Coordinator) Disconnect() error {
	return c.command(cmdDisconnect, "")
}

// SendText forwards a typed user message, bypassing the recognizer.
func (c *Coordinator) SendText(text string) error {
	return c.command(cmdSendText, text)
}

// Messages returns a copy of the session transcript.
func (c *Coordinator) Messages() []ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// LiveTranscript returns the in-progress utterance, interim text included.
func (c *Coordinator) LiveTranscript() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.liveText
}

// LastError returns the most recent user-facing error message, empty when
// the session is healthy.
func (c *Coordinator) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

func (c *Coordinator) command(kind commandKind, text string) error {
	if c.ctx == nil {
		return context.Canceled
	}
	reply := make(chan error, 1)
	select {
	case c.events <- event{kind: evCommand, cmd: kind, text: text, reply: reply}:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *Coordinator) push(ev event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Coordinator) pump(in <-chan frames.Frame, kind eventKind) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case f, ok := <-in:
			if !ok {
				return
			}
			c.push(event{kind: kind, frame: f})
		}
	}
}

func (c *Coordinator) reduce() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.events:
			switch ev.kind {
			case evSession:
				c.onSession(ev.frame)
			case evRecognition:
				c.onRecognition(ev.frame)
			case evPlayback:
				c.onPlayback(ev.frame)
			case evUtterance:
				c.onUtterance(ev.text)
			case evCommand:
				ev.reply <- c.onCommand(ev)
			}
		}
	}
}

func (c *Coordinator) onCommand(ev event) error {
	switch ev.cmd {
	case cmdConnect:
		if c.sess.Connected() {
			return nil
		}
		if err := c.fsm.Transition(turn.StateConnecting, "connect requested"); err != nil {
			c.log.Warn("transition_rejected", "session_id", c.cfg.SessionID, "error", err.Error())
		}
		if err := c.sess.Connect(c.ctx); err != nil {
			_ = c.fsm.Transition(turn.StateIdle, "connect failed")
			c.setLastError("Could not reach the voice agent. Check your network and try again.")
			return err
		}
		return nil
	case cmdDisconnect:
		c.teardownTurn("disconnect requested")
		if c.recRunning {
			_ = c.rec.Close()
			c.recRunning = false
		}
		return c.sess.Close()
	case cmdSendText:
		c.commitUserText(ev.text)
		return nil
	}
	return nil
}

func (c *Coordinator) onSession(f frames.Frame) {
	switch fr := f.(type) {
	case frames.SystemFrame:
		c.onSessionSignal(fr)
	case frames.TextFrame:
		c.onAgentResponse(fr)
	case frames.AudioFrame:
		c.queue.Enqueue(fr)
	}
}

func (c *Coordinator) onSessionSignal(f frames.SystemFrame) {
	switch f.Name() {
	case "session_open":
		// Capture must be live before the initiation message so the opening
		// exchange can already be interrupted.
		if !c.recRunning {
			if err := c.rec.Start(c.ctx); err != nil {
				c.log.Error("recognizer_start_failed", "session_id", c.cfg.SessionID, "error", err.Error())
				c.setLastError("Microphone capture failed to start.")
			} else {
				c.recRunning = true
			}
		}
		if err := c.sess.SendInit(); err != nil {
			c.log.Error("session_init_failed", "session_id", c.cfg.SessionID, "error", err.Error())
		}
		// An automatic reconnect arrives with the machine back in Idle.
		if c.fsm.State() == turn.StateIdle {
			_ = c.fsm.Transition(turn.StateConnecting, "session reopened")
		}
		_ = c.fsm.Transition(turn.StateListening, "session open")
		c.comp.Buffer().Reset()
		c.setLiveText("")
		c.setLastError("")
	case "session_closed":
		c.teardownTurn("session closed")
	case "session_error":
		c.setLastError("Voice session error. Reconnecting.")
	case "reconnect_scheduled":
		c.log.Info("session_reconnect_pending", "session_id", c.cfg.SessionID)
	}
}

func (c *Coordinator) onAgentResponse(f frames.TextFrame) {
	msg := newChatMessage(RoleAssistant, f.Text())
	c.appendMessage(msg)
	if c.awaitResponse {
		c.awaitResponse = false
		c.record("agent_first_response", 1)
	}
	c.log.Info("agent_response",
		"session_id", c.cfg.SessionID,
		"chars", len(f.Text()))
}

func (c *Coordinator) onRecognition(f frames.Frame) {
	switch fr := f.(type) {
	case frames.TextFrame:
		c.onRecognizedText(fr)
	case frames.SystemFrame:
		c.onRecognizerSignal(fr)
	}
}

func (c *Coordinator) onRecognizedText(f frames.TextFrame) {
	if strings.TrimSpace(f.Text()) == "" {
		return
	}
	// Any recognized speech while the gate is armed is a barge-in. TryFire
	// claims the gate atomically, so a burst of interim results still fires
	// exactly one interruption.
	if c.queue.Gate().TryFire() {
		c.interrupt()
	}
	c.comp.Buffer().Observe(f)
	c.comp.Touch()
	c.setLiveText(c.comp.Buffer().Current())
}

func (c *Coordinator) interrupt() {
	spoke := c.fsm.SpeakingDuration()
	c.queue.Interrupt()
	if err := c.fsm.Transition(turn.StateInterrupted, "user barge-in"); err == nil {
		_ = c.fsm.Transition(turn.StateListening, "resume capture")
	}
	if c.sess.Connected() {
		if err := c.sess.SendInterruption(); err != nil {
			c.log.Warn("interruption_send_failed", "session_id", c.cfg.SessionID, "error", err.Error())
		}
	}
	c.record("interruption", spoke.Seconds())
	c.log.Info("user_interruption", "session_id", c.cfg.SessionID)
}

func (c *Coordinator) onRecognizerSignal(f frames.SystemFrame) {
	meta := f.Meta()
	c.log.Warn("recognizer_event",
		"session_id", c.cfg.SessionID,
		"name", f.Name(),
		"reason", meta[frames.MetaReason])
	if msg := meta["user_message"]; msg != "" {
		c.setLastError(msg)
	}
}

func (c *Coordinator) onPlayback(f frames.Frame) {
	cf, ok := f.(frames.ControlFrame)
	if !ok {
		return
	}
	switch cf.Code() {
	case frames.ControlAudioReady:
		if cf.Meta()[frames.MetaChunkIndex] == "0" {
			_ = c.fsm.Transition(turn.StateAgentSpeaking, "first chunk playing")
			if c.awaitAudio {
				c.awaitAudio = false
				c.record("agent_first_audio", 1)
			}
		}
	case frames.ControlAudioDone:
		if c.fsm.State() == turn.StateAgentSpeaking {
			_ = c.fsm.Transition(turn.StateListening, "agent turn complete")
		}
		c.record("turn_done", 1)
	}
}

func (c *Coordinator) onUtterance(text string) {
	c.commitUserText(text)
}

func (c *Coordinator) commitUserText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.appendMessage(newChatMessage(RoleUser, text))
	c.setLiveText("")
	c.awaitResponse = true
	c.awaitAudio = true
	c.record("utterance_final", float64(len(text)))
	c.log.Info("utterance_final",
		"session_id", c.cfg.SessionID,
		"text", redact.Text(text))
	if c.sess.Connected() {
		if err := c.sess.SendUserMessage(text); err != nil {
			c.log.Error("user_message_send_failed", "session_id", c.cfg.SessionID, "error", err.Error())
			c.setLastError("Message could not be delivered.")
		}
	}
}

func (c *Coordinator) teardownTurn(reason string) {
	c.queue.Interrupt()
	c.comp.Buffer().Reset()
	c.setLiveText("")
	c.awaitResponse = false
	c.awaitAudio = false
	if c.fsm.State() != turn.StateIdle {
		_ = c.fsm.Transition(turn.StateIdle, reason)
	}
}

func (c *Coordinator) appendMessage(m ChatMessage) {
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
}

func (c *Coordinator) setLiveText(s string) {
	c.mu.Lock()
	c.liveText = s
	c.mu.Unlock()
}

func (c *Coordinator) setLastError(s string) {
	c.mu.Lock()
	c.lastError = s
	c.mu.Unlock()
}

func (c *Coordinator) record(name string, value float64) {
	c.obs.RecordEvent(metrics.NewEvent(name, value, map[string]string{
		"session_id": c.cfg.SessionID,
	}))
}
