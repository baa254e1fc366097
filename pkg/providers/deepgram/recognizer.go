package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/adiwarsita/kirana/pkg/adapters/recognizer"
	"github.com/adiwarsita/kirana/pkg/frames"
	"github.com/adiwarsita/kirana/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Encoding   string
	Interim    bool
	SessionID  string
	// RestartMax caps automatic restarts after stream errors. Zero means
	// default (3).
	RestartMax     int
	RestartBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.Encoding == "" {
		c.Encoding = "linear16"
	}
	if c.RestartMax <= 0 {
		c.RestartMax = 3
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = 200 * time.Millisecond
	}
	return c
}

// Recognizer streams PCM audio to Deepgram's live transcription API and
// emits TextFrames carrying finality, confidence, and a monotonically
// increasing result index. Stream errors trigger an automatic restart up to
// RestartMax attempts.
type Recognizer struct {
	cfg      Config
	dgClient *client.WSCallback
	out      chan frames.Frame
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	pipeMu     sync.Mutex
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	mu         sync.Mutex
	resultIdx  int
	restarts   int
	metaLogged bool
	closed     bool
}

func New(cfg Config) *Recognizer {
	cfg = cfg.withDefaults()
	logger := logging.NewComponentLogger(slog.Default(), "deepgram_recognizer")
	return &Recognizer{
		cfg:    cfg,
		out:    make(chan frames.Frame, 256),
		logger: logger,
	}
}

func (r *Recognizer) Name() string { return "deepgram_streaming" }

// Config returns the effective configuration after defaults.
func (r *Recognizer) Config() Config { return r.cfg }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	return r.connect()
}

func (r *Recognizer) connect() error {
	pr, pw := io.Pipe()
	r.pipeMu.Lock()
	r.pipeReader, r.pipeWriter = pr, pw
	r.pipeMu.Unlock()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		InterimResults: r.cfg.Interim,
		SmartFormat:    true,
	}

	r.logger.Info("initializing deepgram connection",
		slog.String("session_id", r.cfg.SessionID),
		slog.String("model", r.cfg.Model),
		slog.Int("sample_rate", r.cfg.SampleRate))

	cb := &callback{parent: r}
	dgClient, err := client.NewWSUsingCallback(r.ctx, r.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		r.logger.Error("deepgram_client_create_error",
			slog.String("error", err.Error()),
			slog.String("session_id", r.cfg.SessionID))
		return err
	}
	r.dgClient = dgClient

	if connected := r.dgClient.Connect(); !connected {
		r.logger.Error("deepgram_connect_failed",
			slog.String("session_id", r.cfg.SessionID))
		return fmt.Errorf("deepgram connection failed")
	}

	go func() {
		err := r.dgClient.Stream(pr)
		if err != nil && r.ctx.Err() == nil {
			r.logger.Error("deepgram_stream_error",
				slog.String("error", err.Error()),
				slog.String("session_id", r.cfg.SessionID))
			r.maybeRestart(err)
		}
	}()
	return nil
}

// maybeRestart reconnects the recognition stream after a mid-session error.
// Gives up after RestartMax attempts and reports the failure downstream.
func (r *Recognizer) maybeRestart(cause error) {
	r.mu.Lock()
	if r.closed || r.restarts >= r.cfg.RestartMax {
		exhausted := !r.closed
		r.mu.Unlock()
		if exhausted {
			r.emitSignal("recognizer_failed", cause.Error(),
				"Speech recognition stopped. Reconnect to continue.")
		}
		return
	}
	r.restarts++
	attempt := r.restarts
	r.mu.Unlock()

	time.Sleep(r.cfg.RestartBackoff * time.Duration(attempt))
	if r.ctx.Err() != nil {
		return
	}
	r.logger.Info("deepgram_restarting",
		slog.String("session_id", r.cfg.SessionID),
		slog.Int("attempt", attempt))
	if err := r.connect(); err != nil {
		r.maybeRestart(err)
	}
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.logger.Info("closing deepgram connection",
		slog.String("session_id", r.cfg.SessionID))
	if r.cancel != nil {
		r.cancel()
	}
	r.pipeMu.Lock()
	if r.pipeWriter != nil {
		_ = r.pipeWriter.Close()
	}
	r.pipeMu.Unlock()
	if r.dgClient != nil {
		r.dgClient.Stop()
	}
	return nil
}

func (r *Recognizer) SendAudio(frame frames.AudioFrame) error {
	r.pipeMu.Lock()
	pw := r.pipeWriter
	r.pipeMu.Unlock()
	if pw == nil {
		return fmt.Errorf("not started")
	}
	_, err := pw.Write(frame.RawPayload())
	if err != nil {
		r.logger.Error("failed to send audio to deepgram",
			slog.String("error", err.Error()),
			slog.String("session_id", r.cfg.SessionID))
	}
	return err
}

func (r *Recognizer) Results() <-chan frames.Frame { return r.out }

func (r *Recognizer) emit(f frames.Frame) {
	select {
	case r.out <- f:
	default:
		r.logger.Warn("deepgram_out_channel_full",
			slog.String("session_id", r.cfg.SessionID))
	}
}

func (r *Recognizer) emitSignal(name, reason, userMessage string) {
	meta := map[string]string{
		frames.MetaSource: "recognizer",
		frames.MetaReason: reason,
	}
	if userMessage != "" {
		meta["user_message"] = userMessage
	}
	r.emit(frames.NewSystemFrame(r.cfg.SessionID, time.Now().UnixNano(), name, meta))
}

// --- Callback Implementation ---

type callback struct {
	parent *Recognizer
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal

	c.parent.mu.Lock()
	idx := c.parent.resultIdx
	if isFinal {
		c.parent.resultIdx++
	}
	c.parent.mu.Unlock()

	meta := map[string]string{
		frames.MetaSource:      "recognizer",
		frames.MetaIsFinal:     strconv.FormatBool(isFinal),
		frames.MetaResultIndex: strconv.Itoa(idx),
		frames.MetaConfidence:  strconv.FormatFloat(alt.Confidence, 'f', 4, 64),
	}

	c.parent.logger.Debug("transcript_received",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.Bool("is_final", isFinal),
		slog.Int("result_index", idx))

	c.parent.emit(frames.NewTextFrame(c.parent.cfg.SessionID, time.Now().UnixNano(), alt.Transcript, meta))
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.mu.Lock()
	first := !c.parent.metaLogged
	c.parent.metaLogged = true
	c.parent.mu.Unlock()
	if first {
		c.parent.logger.Info("deepgram_metadata_received",
			slog.String("session_id", c.parent.cfg.SessionID),
			slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech_started_event",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("utterance_end_event",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.emitSignal("recognizer_error", er.ErrCode,
		"Speech recognition hit an error.")
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

var _ recognizer.StreamingRecognizer = (*Recognizer)(nil)
