package coordinator

import "github.com/adiwarsita/kirana/pkg/frames"

// eventKind tags the origin of an event entering the reducer. Every
// state change in the coordinator happens on the reducer goroutine in
// response to exactly one of these, so ordering questions reduce to
// channel ordering.
type eventKind int

const (
	evSession eventKind = iota
	evRecognition
	evPlayback
	evUtterance
	evCommand
)

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdDisconnect
	cmdSendText
)

type event struct {
	kind  eventKind
	frame frames.Frame

	// evUtterance
	text string

	// evCommand
	cmd   commandKind
	reply chan error
}
