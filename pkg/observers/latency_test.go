package observers

import (
	"testing"
	"time"

	"github.com/adiwarsita/kirana/pkg/metrics"
)

func TestTurnLatencyObserverCompletesTurn(t *testing.T) {
	o := NewTurnLatencyObserver(nil)
	base := time.Now()
	tags := map[string]string{"session_id": "s1"}

	o.RecordEvent(metrics.MetricsEvent{Name: "utterance_final", Time: base, Tags: tags})
	o.RecordEvent(metrics.MetricsEvent{Name: "agent_first_response", Time: base.Add(200 * time.Millisecond), Tags: tags})
	o.RecordEvent(metrics.MetricsEvent{Name: "agent_first_audio", Time: base.Add(350 * time.Millisecond), Tags: tags})

	o.mu.Lock()
	if o.turns["s1"] == nil {
		o.mu.Unlock()
		t.Fatalf("turn should be open before turn_done")
	}
	o.mu.Unlock()

	o.RecordEvent(metrics.MetricsEvent{Name: "turn_done", Time: base.Add(2 * time.Second), Tags: tags})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turns["s1"] != nil {
		t.Fatalf("turn should be flushed after turn_done")
	}
}

func TestTurnLatencyObserverIgnoresUntaggedEvents(t *testing.T) {
	o := NewTurnLatencyObserver(nil)
	o.RecordEvent(metrics.MetricsEvent{Name: "utterance_final", Time: time.Now()})
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.turns) != 0 {
		t.Fatalf("untagged event should be dropped")
	}
}
