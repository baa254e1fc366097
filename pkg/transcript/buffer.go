package transcript

import (
	"strconv"
	"strings"
	"sync"

	"github.com/adiwarsita/kirana/pkg/frames"
)

// Buffer accumulates finalized recognition fragments plus the current
// interim fragment for the active listening session. The recognizer's
// result-index cursor prevents reprocessing results that were already
// finalized in an earlier event.
type Buffer struct {
	mu      sync.Mutex
	final   strings.Builder
	interim string
	cursor  int
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Observe folds one recognition result into the buffer. Final results at or
// past the cursor are appended and advance it; interim results replace the
// pending interim fragment without advancing.
func (b *Buffer) Observe(f frames.TextFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, hasIdx := resultIndex(f)
	if hasIdx && idx < b.cursor {
		return
	}

	if f.IsFinal() {
		if b.final.Len() > 0 && !strings.HasSuffix(b.final.String(), " ") {
			b.final.WriteByte(' ')
		}
		b.final.WriteString(strings.TrimSpace(f.Text()))
		b.interim = ""
		if hasIdx {
			b.cursor = idx + 1
		}
		return
	}
	b.interim = f.Text()
}

// Current returns the complete live transcript: finalized fragments plus
// the pending interim fragment.
func (b *Buffer) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.interim == "" {
		return b.final.String()
	}
	if b.final.Len() == 0 {
		return b.interim
	}
	return b.final.String() + " " + strings.TrimSpace(b.interim)
}

// Reset clears all accumulated state for a new listening session.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.final.Reset()
	b.interim = ""
	b.cursor = 0
}

func resultIndex(f frames.TextFrame) (int, bool) {
	raw := f.Meta()[frames.MetaResultIndex]
	if raw == "" {
		return 0, false
	}
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return idx, true
}
