package convai

// Outbound control messages.

type initiationMessage struct {
	Type                       string          `json:"type"`
	ConversationConfigOverride *configOverride `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	Agent agentOverride `json:"agent"`
}

type agentOverride struct {
	AgentID string `json:"agent_id"`
}

func newInitiationMessage(agentID string) initiationMessage {
	return initiationMessage{
		Type: "conversation_initiation_client_data",
		ConversationConfigOverride: &configOverride{
			Agent: agentOverride{AgentID: agentID},
		},
	}
}

type userMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func newUserMessage(text string) userMessage {
	return userMessage{Type: "user_message", Text: text}
}

type userInterruption struct {
	Type string `json:"type"`
}

func newUserInterruption() userInterruption {
	return userInterruption{Type: "user_interruption"}
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// Inbound messages. The server emits both flat and event-nested shapes for
// agent responses and audio; accessors below accept either.

type serverMessage struct {
	Type string `json:"type"`

	AgentResponse      string              `json:"agent_response"`
	AgentResponseEvent *agentResponseEvent `json:"agent_response_event"`

	AudioBase64 string      `json:"audio_base_64"`
	AudioEvent  *audioEvent `json:"audio_event"`

	PingEvent *pingEvent `json:"ping_event"`

	UserTranscriptionEvent *userTranscriptionEvent `json:"user_transcription_event"`
}

type agentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

type audioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
	EventID     int    `json:"event_id"`
}

type pingEvent struct {
	EventID int `json:"event_id"`
}

type userTranscriptionEvent struct {
	UserTranscript string `json:"user_transcript"`
}

// responseText returns the agent's text reply from either shape.
func (m serverMessage) responseText() (string, bool) {
	if m.AgentResponseEvent != nil && m.AgentResponseEvent.AgentResponse != "" {
		return m.AgentResponseEvent.AgentResponse, true
	}
	if m.AgentResponse != "" {
		return m.AgentResponse, true
	}
	return "", false
}

// audioChunk returns the base64 PCM payload from either shape.
func (m serverMessage) audioChunk() (string, bool) {
	if m.AudioEvent != nil && m.AudioEvent.AudioBase64 != "" {
		return m.AudioEvent.AudioBase64, true
	}
	if m.AudioBase64 != "" {
		return m.AudioBase64, true
	}
	return "", false
}

func (m serverMessage) pingID() int {
	if m.PingEvent != nil {
		return m.PingEvent.EventID
	}
	return 0
}
