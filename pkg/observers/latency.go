package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/adiwarsita/kirana/pkg/metrics"
)

// TurnLatencyObserver correlates per-turn events and logs one latency line
// when the turn completes: utterance finalization, first agent text, first
// agent audio, and end of playback.
type TurnLatencyObserver struct {
	mu    sync.Mutex
	turns map[string]*turnTrace
	log   *slog.Logger
}

type turnTrace struct {
	utteranceFinal time.Time
	agentFirstText time.Time
	agentFirstAudi time.Time
	turnDone       time.Time
	interrupted    bool
}

func NewTurnLatencyObserver(log *slog.Logger) *TurnLatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &TurnLatencyObserver{
		turns: make(map[string]*turnTrace),
		log:   log,
	}
}

func (o *TurnLatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ""
	if ev.Tags != nil {
		sessionID = ev.Tags["session_id"]
	}
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	t := o.turns[sessionID]
	if t == nil {
		t = &turnTrace{}
		o.turns[sessionID] = t
	}
	switch ev.Name {
	case "utterance_final":
		// A new user utterance starts a fresh turn.
		*t = turnTrace{utteranceFinal: ev.Time}
	case "agent_first_response":
		if t.agentFirstText.IsZero() {
			t.agentFirstText = ev.Time
		}
	case "agent_first_audio":
		if t.agentFirstAudi.IsZero() {
			t.agentFirstAudi = ev.Time
		}
	case "interruption":
		t.interrupted = true
		t.turnDone = ev.Time
	case "turn_done":
		t.turnDone = ev.Time
	}
	if !t.turnDone.IsZero() {
		o.logTurnLocked(sessionID, t)
		delete(o.turns, sessionID)
	}
	o.mu.Unlock()
}

func (o *TurnLatencyObserver) logTurnLocked(sessionID string, t *turnTrace) {
	o.log.Info("turn_latency",
		"session_id", sessionID,
		"first_text_ms", durationMs(t.utteranceFinal, t.agentFirstText),
		"first_audio_ms", durationMs(t.utteranceFinal, t.agentFirstAudi),
		"turn_ms", durationMs(t.utteranceFinal, t.turnDone),
		"interrupted", t.interrupted,
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
