package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/adiwarsita/kirana/pkg/frames"
	"github.com/adiwarsita/kirana/pkg/metrics"
	"github.com/adiwarsita/kirana/pkg/playback"
	"github.com/adiwarsita/kirana/pkg/providers/mock"
	"github.com/adiwarsita/kirana/pkg/transcript"
	"github.com/adiwarsita/kirana/pkg/turn"
)

type fakeSession struct {
	mu            sync.Mutex
	connected     bool
	inits         int
	userMsgs      []string
	interruptions int
	onInit        func()

	out chan frames.Frame
}

func newFakeSession() *fakeSession {
	return &fakeSession{out: make(chan frames.Frame, 64)}
}

func (s *fakeSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.out <- frames.NewSystemFrame("sess", time.Now().UnixNano(), "session_open", nil)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) SendInit() error {
	s.mu.Lock()
	s.inits++
	cb := s.onInit
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (s *fakeSession) SendUserMessage(text string) error {
	s.mu.Lock()
	s.userMsgs = append(s.userMsgs, text)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) SendInterruption() error {
	s.mu.Lock()
	s.interruptions++
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Events() <-chan frames.Frame { return s.out }

func (s *fakeSession) sentMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.userMsgs))
	copy(out, s.userMsgs)
	return out
}

func (s *fakeSession) interruptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interruptions
}

// trackingRecognizer records Start calls so tests can assert ordering
// against the session handshake.
type trackingRecognizer struct {
	*mock.Recognizer
	mu      sync.Mutex
	started bool
}

func (r *trackingRecognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	return r.Recognizer.Start(ctx)
}

func (r *trackingRecognizer) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

type harness struct {
	sess   *fakeSession
	rec    *trackingRecognizer
	player *mock.Player
	queue  *playback.Queue
	obs    *metrics.MemoryObserver
	coord  *Coordinator
}

func newHarness(t *testing.T, clipDur time.Duration) *harness {
	t.Helper()
	sess := newFakeSession()
	rec := &trackingRecognizer{Recognizer: mock.NewRecognizer(mock.RecognizerConfig{SessionID: "sess"})}
	player := mock.NewPlayer(mock.PlayerConfig{ClipDuration: clipDur})
	queue := playback.NewQueue(playback.QueueConfig{
		SessionID: "sess",
		Gap:       time.Millisecond,
	}, player, turn.NewGate(), nil)
	obs := metrics.NewMemoryObserver()
	coord := New(Config{
		SessionID: "sess",
		Completer: transcript.CompleterOptions{Timeout: 60 * time.Millisecond},
	}, sess, rec, queue, obs, nil)

	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = coord.Stop() })
	return &harness{sess: sess, rec: rec, player: player, queue: queue, obs: obs, coord: coord}
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.coord.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, func() bool { return h.coord.State() == turn.StateListening })
}

func (h *harness) enqueueAgentAudio(n int) {
	for i := 0; i < n; i++ {
		h.sess.out <- frames.NewAudioFrame("sess", time.Now().UnixNano(), make([]byte, 320), 16000, 1, nil)
	}
}

func (h *harness) metricCount(name string) int {
	n := 0
	for _, ev := range h.obs.Snapshot() {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRecognizerStartsBeforeInit(t *testing.T) {
	h := newHarness(t, 0)

	startedAtInit := make(chan bool, 1)
	h.sess.onInit = func() {
		startedAtInit <- h.rec.Started()
	}

	h.connect(t)

	select {
	case ok := <-startedAtInit:
		if !ok {
			t.Fatal("initiation sent before recognizer started")
		}
	case <-time.After(time.Second):
		t.Fatal("init never sent")
	}
}

func TestUtteranceDispatchAfterSilence(t *testing.T) {
	h := newHarness(t, 0)
	h.connect(t)

	h.rec.EmitText("book a table", false)
	h.rec.EmitText("book a table for two", true)

	waitFor(t, func() bool { return len(h.sess.sentMessages()) == 1 })
	if got := h.sess.sentMessages()[0]; got != "book a table for two" {
		t.Fatalf("sent %q", got)
	}
	msgs := h.coord.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleUser {
		t.Fatalf("messages = %+v", msgs)
	}
	if h.coord.LiveTranscript() != "" {
		t.Fatalf("live transcript not cleared: %q", h.coord.LiveTranscript())
	}
	if h.metricCount("utterance_final") != 1 {
		t.Fatal("utterance_final metric missing")
	}
}

func TestUtteranceNotDispatchedWhileSpeechContinues(t *testing.T) {
	h := newHarness(t, 0)
	h.connect(t)

	// Keep touching the completer faster than the timeout.
	for i := 0; i < 5; i++ {
		h.rec.EmitText("still talking", false)
		time.Sleep(20 * time.Millisecond)
	}
	if len(h.sess.sentMessages()) != 0 {
		t.Fatal("utterance dispatched while speech was ongoing")
	}
}

func TestShortUtteranceDropped(t *testing.T) {
	h := newHarness(t, 0)
	h.connect(t)

	h.rec.EmitText("hm", true)
	time.Sleep(150 * time.Millisecond)
	if len(h.sess.sentMessages()) != 0 {
		t.Fatalf("short utterance dispatched: %v", h.sess.sentMessages())
	}
}

func TestAgentResponseAppendsAssistantMessage(t *testing.T) {
	h := newHarness(t, 0)
	h.connect(t)

	h.rec.EmitText("what is the weather", true)
	waitFor(t, func() bool { return len(h.sess.sentMessages()) == 1 })

	h.sess.out <- frames.NewTextFrame("sess", time.Now().UnixNano(), "Sunny and warm.", nil)
	waitFor(t, func() bool { return len(h.coord.Messages()) == 2 })

	msgs := h.coord.Messages()
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Fatalf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if h.metricCount("agent_first_response") != 1 {
		t.Fatal("agent_first_response metric missing")
	}
}

func TestAgentTurnStateAndCompletion(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.connect(t)

	h.enqueueAgentAudio(2)
	waitFor(t, func() bool { return h.coord.State() == turn.StateAgentSpeaking })
	waitFor(t, func() bool { return h.coord.State() == turn.StateListening })

	if h.metricCount("turn_done") != 1 {
		t.Fatal("turn_done metric missing")
	}
	if len(h.player.Clips()) != 2 {
		t.Fatalf("played %d clips", len(h.player.Clips()))
	}
}

func TestInterruptionFiresExactlyOnce(t *testing.T) {
	h := newHarness(t, 80*time.Millisecond)
	h.connect(t)

	h.enqueueAgentAudio(4)
	// Gate opens once the second chunk starts playing.
	waitFor(t, func() bool { return h.queue.Gate().Open() })

	h.rec.EmitText("stop", false)
	h.rec.EmitText("stop right there", false)

	waitFor(t, func() bool { return h.sess.interruptionCount() == 1 })
	waitFor(t, func() bool { return h.queue.Pending() == 0 && !h.queue.Playing() })

	if h.sess.interruptionCount() != 1 {
		t.Fatalf("interruptions = %d", h.sess.interruptionCount())
	}
	if h.queue.Gate().Open() {
		t.Fatal("gate still open after interruption")
	}
	if h.metricCount("interruption") != 1 {
		t.Fatal("interruption metric missing")
	}
	waitFor(t, func() bool { return h.coord.State() == turn.StateListening })
}

func TestFirstChunkDoesNotArmInterruption(t *testing.T) {
	h := newHarness(t, 80*time.Millisecond)
	h.connect(t)

	h.enqueueAgentAudio(1)
	waitFor(t, func() bool { return h.queue.Playing() })

	h.rec.EmitText("hello hello", false)
	time.Sleep(30 * time.Millisecond)

	if h.sess.interruptionCount() != 0 {
		t.Fatal("interruption fired during first chunk")
	}
}

func TestSendTextBypassesRecognizer(t *testing.T) {
	h := newHarness(t, 0)
	h.connect(t)

	if err := h.coord.SendText("typed message"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	waitFor(t, func() bool { return len(h.sess.sentMessages()) == 1 })
	if h.sess.sentMessages()[0] != "typed message" {
		t.Fatalf("sent %q", h.sess.sentMessages()[0])
	}
}

func TestDisconnectReturnsToIdle(t *testing.T) {
	h := newHarness(t, 0)
	h.connect(t)

	if err := h.coord.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if h.coord.State() != turn.StateIdle {
		t.Fatalf("state = %s", h.coord.State())
	}
	if h.sess.Connected() {
		t.Fatal("session still connected")
	}
}
