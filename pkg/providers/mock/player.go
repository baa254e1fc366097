package mock

import (
	"context"
	"sync"
	"time"

	"github.com/adiwarsita/kirana/pkg/adapters/player"
	"github.com/adiwarsita/kirana/pkg/frames"
)

type PlayerConfig struct {
	// ClipDuration is how long each Play call blocks, simulating render
	// time. Zero means return immediately.
	ClipDuration time.Duration
}

// Player records every clip it is asked to render. Play blocks for
// ClipDuration or until the context is cancelled, mirroring a real output
// device.
type Player struct {
	cfg PlayerConfig

	mu      sync.Mutex
	started bool
	clips   []frames.AudioFrame
}

func NewPlayer(cfg PlayerConfig) *Player {
	return &Player{cfg: cfg}
}

func (p *Player) Name() string { return "mock_player" }

func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return nil
}

func (p *Player) Close() error {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
	return nil
}

func (p *Player) Play(ctx context.Context, clip frames.AudioFrame) error {
	p.mu.Lock()
	p.clips = append(p.clips, clip)
	p.mu.Unlock()
	if p.cfg.ClipDuration <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.ClipDuration):
		return nil
	}
}

// Clips returns the rendered clips in play order.
func (p *Player) Clips() []frames.AudioFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]frames.AudioFrame, len(p.clips))
	copy(out, p.clips)
	return out
}

var _ player.Player = (*Player)(nil)
