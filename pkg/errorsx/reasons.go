package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSessionConnect ReasonCode = "session_connect"
	ReasonSessionSend    ReasonCode = "session_send"
	ReasonSessionClosed  ReasonCode = "session_closed"
	ReasonSignedURL      ReasonCode = "signed_url"

	ReasonRecognizerConnect    ReasonCode = "recognizer_connect"
	ReasonRecognizerSend       ReasonCode = "recognizer_send"
	ReasonRecognizerNotAllowed ReasonCode = "recognizer_not_allowed"
	ReasonRecognizerNetwork    ReasonCode = "recognizer_network"
	ReasonRecognizerNoSpeech   ReasonCode = "recognizer_no_speech"
	ReasonRecognizerAborted    ReasonCode = "recognizer_aborted"
	ReasonRecognizerRateLimit  ReasonCode = "recognizer_rate_limit"

	ReasonPlaybackDecode ReasonCode = "playback_decode"
	ReasonPlaybackStart  ReasonCode = "playback_start"

	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
)

// UserMessage maps a reason to a message suitable for end-user display.
// Unmapped reasons get a generic fallback.
func UserMessage(reason ReasonCode) string {
	switch reason {
	case ReasonRecognizerNotAllowed:
		return "Microphone access was denied. Please allow microphone access and try again."
	case ReasonRecognizerNetwork:
		return "Network error during speech recognition. Check your connection."
	case ReasonRecognizerNoSpeech:
		return "No speech detected. Please try speaking again."
	case ReasonSessionConnect, ReasonSignedURL:
		return "Could not reach the voice service. Retrying..."
	default:
		return "Something went wrong. Please try again."
	}
}
