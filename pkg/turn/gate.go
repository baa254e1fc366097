package turn

import "sync/atomic"

// Gate controls whether recognition activity may be treated as a user
// interruption of agent speech. The first chunk of a turn keeps the gate
// closed so the agent's own opening words cannot trigger a false positive;
// every later chunk opens it. A completed or interrupted turn closes it
// again.
type Gate struct {
	open atomic.Bool
}

func NewGate() *Gate {
	return &Gate{}
}

// Open returns true when interruption detection is armed.
func (g *Gate) Open() bool {
	return g.open.Load()
}

// ArmForChunk opens or closes the gate based on the chunk's position within
// the current drain sequence. Chunk 0 closes it, chunk >0 opens it.
func (g *Gate) ArmForChunk(index int) {
	g.open.Store(index > 0)
}

// Close disarms interruption detection. Called when an interruption fires
// or when the turn completes.
func (g *Gate) Close() {
	g.open.Store(false)
}

// TryFire atomically claims one interruption: it returns true only if the
// gate was open, and closes it in the same step. Guarantees at most one
// interruption signal per armed window.
func (g *Gate) TryFire() bool {
	return g.open.CompareAndSwap(true, false)
}
