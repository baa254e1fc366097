package convai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adiwarsita/kirana/pkg/errorsx"
	"github.com/adiwarsita/kirana/pkg/frames"
	"github.com/adiwarsita/kirana/pkg/resilience"
)

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
)

type Config struct {
	AgentID           string
	APIKey            string
	APIBase           string
	SignedURLEndpoint string
	SessionID         string
	SampleRate        int
	Reconnect         resilience.ReconnectPolicy
	SignedURLRetry    resilience.RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.APIBase == "" {
		c.APIBase = "wss://api.elevenlabs.io"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Reconnect.Delay == 0 {
		c.Reconnect = resilience.NewReconnectPolicy(0, 0)
	}
	if c.SignedURLRetry.MaxRetries == 0 {
		c.SignedURLRetry = resilience.NewRetryPolicy(0, 0)
	}
	return c
}

// Client owns exactly one WebSocket session to the conversational-AI
// backend. Session lifecycle, agent text, and decoded audio chunks surface
// as frames on Events; the client never auto-sends the initiation message,
// so the owner can start its recognizer between session open and SendInit
// without truncating the opening user utterance.
type Client struct {
	cfg     Config
	httpc   *http.Client
	dialer  *websocket.Dialer
	out     chan frames.Frame
	log     *slog.Logger
	breaker *resilience.CircuitBreaker

	mu             sync.Mutex
	conn           *websocket.Conn
	state          connState
	closed         bool
	attempts       int
	reconnectTimer *time.Timer
	ctx            context.Context
}

const (
	// System frame names emitted on Events.
	EventSessionOpen        = "session_open"
	EventSessionClosed      = "session_closed"
	EventSessionError       = "session_error"
	EventReconnectScheduled = "reconnect_scheduled"
	EventServerLog          = "server_log"
)

func New(cfg Config, log *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		out:     make(chan frames.Frame, 256),
		log:     log,
		breaker: resilience.NewCircuitBreaker(0, 0),
	}
}

func (c *Client) Name() string { return "convai" }

// Events returns the frame stream: SystemFrames for lifecycle, TextFrames
// for agent replies, AudioFrames for decoded chunks.
func (c *Client) Events() <-chan frames.Frame { return c.out }

// Connected reports whether a session is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// Connect opens the session. No-op when already connecting or connected.
// Any stale handle is torn down first, so at most one socket is ever live.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.AgentID == "" {
		return errorsx.Wrap(errors.New("missing agent id"), errorsx.ReasonSessionConnect)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if !c.breaker.Allow() {
		return errorsx.Wrap(errors.New("session endpoint rate limited, holding off"), errorsx.ReasonSessionConnect)
	}

	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = stateConnecting
	c.closed = false
	c.ctx = ctx
	c.mu.Unlock()

	u := c.sessionURL(ctx)

	conn, resp, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			err = resilience.RateLimitError{Provider: "convai", Message: resp.Status}
		}
		c.breaker.OnError(err)
		c.mu.Lock()
		c.state = stateIdle
		c.mu.Unlock()
		c.emit(frames.NewSystemFrame(c.cfg.SessionID, time.Now().UnixNano(), EventSessionError, map[string]string{
			frames.MetaReason: string(errorsx.ReasonSessionConnect),
		}))
		return errorsx.Wrap(err, errorsx.ReasonSessionConnect)
	}

	c.breaker.OnSuccess()

	c.mu.Lock()
	c.conn = conn
	c.state = stateConnected
	c.attempts = 0
	c.mu.Unlock()

	c.log.Info("session_connected",
		slog.String("session_id", c.cfg.SessionID),
		slog.String("agent_id", c.cfg.AgentID))

	c.emit(frames.NewSystemFrame(c.cfg.SessionID, time.Now().UnixNano(), EventSessionOpen, map[string]string{
		frames.MetaAgentID: c.cfg.AgentID,
	}))

	go c.readLoop(conn)
	return nil
}

// Close tears the session down deliberately. Idempotent; suppresses any
// pending or future reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.state = stateIdle
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// SendInit sends the conversation initiation message. The owner calls this
// after starting its recognizer.
func (c *Client) SendInit() error {
	return c.send(newInitiationMessage(c.cfg.AgentID))
}

// SendUserMessage sends one finalized utterance.
func (c *Client) SendUserMessage(text string) error {
	return c.send(newUserMessage(text))
}

// SendInterruption notifies the backend that the user interrupted playback.
func (c *Client) SendInterruption() error {
	return c.send(newUserInterruption())
}

func (c *Client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.state != stateConnected {
		return errorsx.Wrap(errors.New("not connected"), errorsx.ReasonSessionClosed)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSessionSend)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSessionSend)
	}
	return nil
}

func (c *Client) sessionURL(ctx context.Context) string {
	if c.cfg.SignedURLEndpoint != "" {
		var u string
		err := c.cfg.SignedURLRetry.DoContext(ctx, func() error {
			var rerr error
			u, rerr = resolveSignedURL(ctx, c.httpc, c.cfg.SignedURLEndpoint, c.cfg.AgentID)
			return rerr
		})
		if err == nil {
			return u
		}
		c.log.Warn("signed_url_failed_using_direct",
			slog.String("session_id", c.cfg.SessionID),
			slog.String("error", err.Error()))
	}
	if c.cfg.APIKey != "" {
		// Key in a client-visible query string; acceptable only as a
		// development fallback.
		c.log.Warn("insecure_direct_url_fallback",
			slog.String("session_id", c.cfg.SessionID))
	}
	return directURL(c.cfg.APIBase, c.cfg.AgentID, c.cfg.APIKey)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onReadError(conn, err)
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) onReadError(conn *websocket.Conn, err error) {
	closeCode := 1006
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		closeCode = ce.Code
	}

	c.mu.Lock()
	if c.conn != conn {
		// A newer session already replaced this handle.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = stateIdle
	deliberate := c.closed
	c.mu.Unlock()

	c.emit(frames.NewSystemFrame(c.cfg.SessionID, time.Now().UnixNano(), EventSessionClosed, map[string]string{
		frames.MetaReason: strconv.Itoa(closeCode),
	}))

	if deliberate {
		return
	}
	c.maybeScheduleReconnect(closeCode)
}

func (c *Client) maybeScheduleReconnect(closeCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfg.Reconnect.ShouldReconnect(closeCode, c.attempts) {
		c.log.Info("reconnect_skipped",
			slog.String("session_id", c.cfg.SessionID),
			slog.Int("close_code", closeCode))
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.attempts++
	attempt := c.attempts
	ctx := c.ctx
	c.reconnectTimer = time.AfterFunc(c.cfg.Reconnect.Delay, func() {
		c.mu.Lock()
		busy := c.state != stateIdle || c.closed
		c.mu.Unlock()
		if busy {
			return
		}
		if err := c.Connect(ctx); err != nil {
			c.log.Error("reconnect_failed",
				slog.String("session_id", c.cfg.SessionID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			c.maybeScheduleReconnect(closeCode)
		}
	})

	c.emit(frames.NewSystemFrame(c.cfg.SessionID, time.Now().UnixNano(), EventReconnectScheduled, map[string]string{
		frames.MetaReason: strconv.Itoa(closeCode),
		"attempt":         strconv.Itoa(attempt),
	}))
}

func (c *Client) handleMessage(data []byte) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("session_malformed_payload",
			slog.String("session_id", c.cfg.SessionID),
			slog.String("raw", string(data)))
		return
	}

	if chunk, ok := msg.audioChunk(); ok {
		raw, err := base64.StdEncoding.DecodeString(chunk)
		if err != nil {
			c.log.Error("audio_chunk_decode_error",
				slog.String("session_id", c.cfg.SessionID),
				slog.String("error", err.Error()))
			return
		}
		meta := map[string]string{frames.MetaSource: "agent"}
		if msg.AudioEvent != nil {
			meta[frames.MetaEventID] = strconv.Itoa(msg.AudioEvent.EventID)
		}
		c.emit(frames.NewAudioFrameFromPool(c.cfg.SessionID, time.Now().UnixNano(), raw, c.cfg.SampleRate, 1, meta))
		return
	}

	if text, ok := msg.responseText(); ok {
		c.emit(frames.NewTextFrame(c.cfg.SessionID, time.Now().UnixNano(), text, map[string]string{
			frames.MetaSource: "agent",
		}))
		return
	}

	switch msg.Type {
	case "ping":
		_ = c.send(pongMessage{Type: "pong", EventID: msg.pingID()})
	case "user_transcript", "conversation_initiation_metadata", "mcp_connection_status":
		c.log.Debug("session_event",
			slog.String("session_id", c.cfg.SessionID),
			slog.String("type", msg.Type))
	default:
		c.log.Debug("session_unknown_event",
			slog.String("session_id", c.cfg.SessionID),
			slog.String("type", msg.Type))
	}
}

func (c *Client) emit(f frames.Frame) {
	select {
	case c.out <- f:
	default:
		c.log.Warn("session_event_buffer_full",
			slog.String("session_id", c.cfg.SessionID))
	}
}
