package turn

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateAgentSpeaking
	StateInterrupted
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateListening:
		return "LISTENING"
	case StateAgentSpeaking:
		return "AGENT_SPEAKING"
	case StateInterrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}
