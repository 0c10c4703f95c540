package messages

import "encoding/json"

// Client message types
const (
	ClientTypeClue    = "clue"
	ClientTypeEdit    = "edit"
	ClientTypeDelete  = "delete"
	ClientTypeControl = "control"
)

// Control actions
const (
	ActionStart   = "start"
	ActionAdvance = "advance"
	ActionReset   = "reset"
	ActionNewGame = "new_game"
	ActionPing    = "ping"
)

// ClientMessage represents a message from the browser client
type ClientMessage struct {
	Type    string          `json:"type"` // "clue", "edit", "delete", "control"
	Payload json.RawMessage `json:"payload"`
}

// CluePayload carries a clue typed by the player
type CluePayload struct {
	Text string `json:"text"`
}

// EditPayload rewrites an earlier clue
type EditPayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// DeletePayload removes a message from the log
type DeletePayload struct {
	ID string `json:"id"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"`
}
