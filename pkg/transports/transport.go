package transports

import (
	"context"

	"github.com/adiwarsita/kirana/pkg/frames"
)

// Transport is the audio I/O boundary of a session: captured caller audio
// comes out of Recv, rendered agent audio goes into Send. Implementations
// own their network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// OutboundDialer allows transports to initiate outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// ReadyReporter exposes readiness metadata such as webhook URLs, used for
// informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
