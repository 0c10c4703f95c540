package messages

import (
	"bytes"
	"strconv"
	"time"
)

// ID is a backend identifier. The backend serializes ids as JSON numbers,
// the chat stream sends them as strings; both decode to the same ID.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	*id = ID(data)
	return nil
}

func (id ID) String() string { return string(id) }

// ChatStreamRequest is the body of POST /api/chat-stream/
type ChatStreamRequest struct {
	ConversationID *string `json:"conversation_id"`
	Prompt         string  `json:"prompt"`
}

// StreamEvent is one decoded data frame of the chat stream.
// ConversationID is only set on the terminal frame of a brand-new session.
type StreamEvent struct {
	Chunk          string `json:"chunk,omitempty"`
	Done           bool   `json:"done"`
	ConversationID ID     `json:"conversation_id,omitempty"`
}

// ConversationSummary is one entry of GET /api/conversations/
type ConversationSummary struct {
	ID          ID        `json:"id"`
	Title       string    `json:"title"`
	Score       int       `json:"score"`
	CurrentWord string    `json:"current_word"`
	NumRounds   int       `json:"num_rounds"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Conversation is the detail view including the message history
type Conversation struct {
	ConversationSummary
	Messages []Message `json:"messages"`
}

// Message senders used by the backend
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Message is a persisted backend message
type Message struct {
	ID        ID        `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login. Login only fills Token.
type AuthResponse struct {
	Token    string `json:"token"`
	UserID   ID     `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

type User struct {
	ID         ID        `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	DateJoined time.Time `json:"date_joined"`
}

// UploadTermsResponse is returned by POST /api/upload-terms/
type UploadTermsResponse struct {
	Terms []string `json:"terms"`
}

// SetTopicRequest is the body of POST /api/set-topic/
type SetTopicRequest struct {
	TopicName string `json:"topic_name"`
}
