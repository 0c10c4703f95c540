package messages

// Message types
const (
	TypeStatus     = "status"
	TypeTick       = "tick"
	TypeChunk      = "chunk"
	TypeMessage    = "message"
	TypeResolved   = "resolved"
	TypeState      = "state"
	TypeTranscript = "transcript"
	TypeError      = "error"
)

// Error codes specific to the bridge; domain codes live in apperr
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeSessionFailed  = "SESSION_FAILED"
	ErrCodeBusy           = "BUSY"
	ErrCodeInvalidPhase   = "INVALID_PHASE"
	ErrCodeGameOver       = "GAME_OVER"
)

// ServerMessage represents a message sent to the browser client
type ServerMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId,omitempty"`
	Payload  any    `json:"payload"`
}

// StatusPayload reports a phase change
type StatusPayload struct {
	Phase   string `json:"phase"`
	Message string `json:"message,omitempty"`
}

// TickPayload reports the remaining countdown
type TickPayload struct {
	Remaining int `json:"remaining"`
}

// ChunkPayload carries one streamed fragment of an AI reply
type ChunkPayload struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// LogEntryPayload mirrors a message log entry
type LogEntryPayload struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
	Editing   bool   `json:"isEditing,omitempty"`
	Correct   *bool  `json:"isCorrect,omitempty"`
}

// ResolvedPayload reports the end of a round
type ResolvedPayload struct {
	Round     int    `json:"round"`
	AIGuessed bool   `json:"aiGuessed"`
	Reason    string `json:"reason"`
	Word      string `json:"word,omitempty"`
	LastRound bool   `json:"lastRound"`
}

// StatePayload mirrors the session state
type StatePayload struct {
	SessionID   string `json:"sessionId,omitempty"`
	Round       int    `json:"round"`
	TotalRounds int    `json:"totalRounds"`
	Score       int    `json:"score"`
	AIScore     int    `json:"aiScore"`
	Stale       bool   `json:"stale,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewStatusMessage(playerID, phase, message string) *ServerMessage {
	return &ServerMessage{Type: TypeStatus, PlayerID: playerID, Payload: StatusPayload{Phase: phase, Message: message}}
}

func NewTickMessage(playerID string, remaining int) *ServerMessage {
	return &ServerMessage{Type: TypeTick, PlayerID: playerID, Payload: TickPayload{Remaining: remaining}}
}

func NewChunkMessage(playerID, messageID, text string) *ServerMessage {
	return &ServerMessage{Type: TypeChunk, PlayerID: playerID, Payload: ChunkPayload{MessageID: messageID, Text: text}}
}

func NewLogMessage(playerID string, entry LogEntryPayload) *ServerMessage {
	return &ServerMessage{Type: TypeMessage, PlayerID: playerID, Payload: entry}
}

func NewResolvedMessage(playerID string, p ResolvedPayload) *ServerMessage {
	return &ServerMessage{Type: TypeResolved, PlayerID: playerID, Payload: p}
}

// NewTranscriptMessage replaces the client's whole log, e.g. after a resume
func NewTranscriptMessage(playerID string, entries []LogEntryPayload) *ServerMessage {
	if entries == nil {
		entries = []LogEntryPayload{}
	}
	return &ServerMessage{Type: TypeTranscript, PlayerID: playerID, Payload: entries}
}

func NewStateMessage(playerID string, p StatePayload) *ServerMessage {
	return &ServerMessage{Type: TypeState, PlayerID: playerID, Payload: p}
}

// NewErrorMessage creates an error message
func NewErrorMessage(playerID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:     TypeError,
		PlayerID: playerID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
