package convai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adiwarsita/kirana/pkg/frames"
	"github.com/adiwarsita/kirana/pkg/resilience"
)

type wsServer struct {
	*httptest.Server
	upgrades int64
	inbound  chan map[string]any
	conns    chan *websocket.Conn
}

// newWSServer runs a WebSocket endpoint that records inbound JSON and hands
// each accepted connection to the test for scripted pushes.
func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		inbound: make(chan map[string]any, 32),
		conns:   make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt64(&s.upgrades, 1)
		s.conns <- conn
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var m map[string]any
				if json.Unmarshal(data, &m) == nil {
					s.inbound <- m
				}
			}
		}()
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) Upgrades() int64 { return atomic.LoadInt64(&s.upgrades) }

func newTestClient(s *wsServer, reconnect resilience.ReconnectPolicy) *Client {
	return New(Config{
		AgentID:   "agent-1",
		APIBase:   s.wsURL(),
		SessionID: "sess-1",
		Reconnect: reconnect,
	}, nil)
}

func recvFrame(t *testing.T, c *Client, name string) frames.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-c.Events():
			if sf, ok := f.(frames.SystemFrame); ok && sf.Name() == name {
				return sf
			}
			if name == "" {
				return f
			}
		case <-deadline:
			t.Fatalf("frame %q not received", name)
		}
	}
}

func TestConnectEmitsOpenBeforeInit(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(s, resilience.NewReconnectPolicy(time.Hour, 1))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	recvFrame(t, c, EventSessionOpen)

	// Initiation is owner-driven, not automatic.
	select {
	case m := <-s.inbound:
		t.Fatalf("unexpected message before SendInit: %v", m)
	case <-time.After(50 * time.Millisecond):
	}

	if err := c.SendInit(); err != nil {
		t.Fatalf("send init: %v", err)
	}
	m := <-s.inbound
	if m["type"] != "conversation_initiation_client_data" {
		t.Fatalf("init type = %v", m["type"])
	}
}

func TestConnectIsIdempotentWhileConnected(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(s, resilience.NewReconnectPolicy(time.Hour, 1))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	recvFrame(t, c, EventSessionOpen)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := s.Upgrades(); got != 1 {
		t.Fatalf("upgrades = %d, want 1", got)
	}
}

func TestInboundAgentResponseAndAudio(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(s, resilience.NewReconnectPolicy(time.Hour, 1))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	conn := <-s.conns
	recvFrame(t, c, EventSessionOpen)

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"agent_response","agent_response":"Hello"}`))
	f := recvFrame(t, c, "")
	tf, ok := f.(frames.TextFrame)
	if !ok || tf.Text() != "Hello" {
		t.Fatalf("frame = %#v", f)
	}

	pcm := []byte{1, 2, 3, 4}
	payload := `{"type":"audio","audio_event":{"audio_base_64":"` + base64.StdEncoding.EncodeToString(pcm) + `","event_id":3}}`
	_ = conn.WriteMessage(websocket.TextMessage, []byte(payload))
	f = recvFrame(t, c, "")
	af, ok := f.(frames.AudioFrame)
	if !ok {
		t.Fatalf("frame = %#v", f)
	}
	if af.Rate() != 16000 || len(af.RawPayload()) != 4 {
		t.Fatalf("audio frame rate=%d len=%d", af.Rate(), len(af.RawPayload()))
	}
}

func TestPingGetsPong(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(s, resilience.NewReconnectPolicy(time.Hour, 1))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	conn := <-s.conns
	recvFrame(t, c, EventSessionOpen)

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","ping_event":{"event_id":9}}`))
	m := <-s.inbound
	if m["type"] != "pong" || m["event_id"] != float64(9) {
		t.Fatalf("pong = %v", m)
	}
}

func TestReconnectOnQualifyingCloseCode(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(s, resilience.NewReconnectPolicy(30*time.Millisecond, 2))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	conn := <-s.conns
	recvFrame(t, c, EventSessionOpen)

	// 1005: neither normal nor abnormal, qualifies for reconnect.
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(1005, ""), time.Now().Add(time.Second))
	_ = conn.Close()

	recvFrame(t, c, EventReconnectScheduled)
	recvFrame(t, c, EventSessionOpen)
	if got := s.Upgrades(); got != 2 {
		t.Fatalf("upgrades = %d, want 2", got)
	}
}

func TestNoReconnectOnNormalClose(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(s, resilience.NewReconnectPolicy(20*time.Millisecond, 5))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	conn := <-s.conns
	recvFrame(t, c, EventSessionOpen)

	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	_ = conn.Close()

	recvFrame(t, c, EventSessionClosed)
	time.Sleep(100 * time.Millisecond)
	if got := s.Upgrades(); got != 1 {
		t.Fatalf("upgrades = %d, want 1 (no reconnect)", got)
	}
}

func TestSignedURLFallbackToDirect(t *testing.T) {
	s := newWSServer(t)
	issuing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer issuing.Close()

	c := New(Config{
		AgentID:           "agent-1",
		APIKey:            "sk-test",
		APIBase:           s.wsURL(),
		SignedURLEndpoint: issuing.URL,
		SessionID:         "sess-1",
		Reconnect:         resilience.NewReconnectPolicy(time.Hour, 1),
	}, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect via fallback: %v", err)
	}
	defer c.Close()
	recvFrame(t, c, EventSessionOpen)
}

func TestSignedURLPreferred(t *testing.T) {
	s := newWSServer(t)
	var hits int64
	issuing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		var req signedURLRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.AgentID != "agent-1" {
			http.Error(w, "wrong agent", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(signedURLResponse{URL: s.wsURL()})
	}))
	defer issuing.Close()

	c := New(Config{
		AgentID:           "agent-1",
		APIBase:           "wss://unreachable.invalid",
		SignedURLEndpoint: issuing.URL,
		SessionID:         "sess-1",
		Reconnect:         resilience.NewReconnectPolicy(time.Hour, 1),
	}, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	recvFrame(t, c, EventSessionOpen)
	if atomic.LoadInt64(&hits) != 1 {
		t.Fatalf("issuing endpoint hits = %d", hits)
	}
}
