package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/room4-2/aiticulate/apperr"
	"github.com/room4-2/aiticulate/messages"
)

var (
	// ErrDuplicateID is returned when a message id was already used in this log
	ErrDuplicateID = errors.New("duplicate message id")
	// ErrNotEditable is returned when editing anything but a clue
	ErrNotEditable = errors.New("only clues can be edited")
)

// Kind discriminates log entries
type Kind string

const (
	KindClue   Kind = "clue"
	KindGuess  Kind = "guess"
	KindSystem Kind = "system"
)

// Role maps a kind onto the speaker role shown to players
func (k Kind) Role() string {
	switch k {
	case KindClue:
		return "user"
	case KindGuess:
		return "ai"
	}
	return "system"
}

// Message is one log entry. Correct is only ever set on guesses.
type Message struct {
	ID        string
	Kind      Kind
	Text      string
	CreatedAt time.Time
	Editing   bool
	Correct   *bool
}

// Log is the ordered transcript of a session. Ids are never reused, even
// after Clear.
type Log struct {
	mu    sync.Mutex
	items []Message
	seen  map[string]struct{}
}

func NewLog() *Log {
	return &Log{seen: make(map[string]struct{})}
}

// Append adds m at the end, generating an id when m.ID is empty
func (l *Log) Append(m Message) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if _, dup := l.seen[m.ID]; dup {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, m.ID)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Kind != KindGuess {
		m.Correct = nil
	}
	m.Editing = false

	l.seen[m.ID] = struct{}{}
	l.items = append(l.items, m)
	return m.ID, nil
}

// UpdateText replaces the text of id. Missing ids are ignored.
func (l *Log) UpdateText(id, text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.find(id)
	if i < 0 {
		return false
	}
	l.items[i].Text = text
	return true
}

// AppendChunk extends the text of id with a streamed fragment
func (l *Log) AppendChunk(id, fragment string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.find(id)
	if i < 0 {
		return fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	l.items[i].Text += fragment
	return nil
}

func (l *Log) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.find(id)
	if i < 0 {
		return false
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return true
}

// TruncateAfter drops every message after id
func (l *Log) TruncateAfter(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.find(id)
	if i < 0 {
		return fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	l.items = l.items[:i+1]
	return nil
}

// BeginEdit marks a clue as being edited. Only one message edits at a time.
func (l *Log) BeginEdit(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.find(id)
	if i < 0 {
		return fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	if l.items[i].Kind != KindClue {
		return ErrNotEditable
	}
	for j := range l.items {
		l.items[j].Editing = j == i
	}
	return nil
}

// CancelEdit clears the editing flag of id
func (l *Log) CancelEdit(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.find(id); i >= 0 {
		l.items[i].Editing = false
	}
}

// CommitEdit rewrites a clue and drops the now stale messages after it
func (l *Log) CommitEdit(id, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.find(id)
	if i < 0 {
		return fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	if l.items[i].Kind != KindClue {
		return ErrNotEditable
	}
	l.items[i].Text = text
	l.items[i].Editing = false
	l.items = l.items[:i+1]
	return nil
}

// SetVerdict records whether a guess hit the word
func (l *Log) SetVerdict(id string, correct bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.find(id)
	if i < 0 {
		return fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	if l.items[i].Kind != KindGuess {
		return fmt.Errorf("message %s is a %s, not a guess", id, l.items[i].Kind)
	}
	l.items[i].Correct = &correct
	return nil
}

// Get returns a copy of the message with id
func (l *Log) Get(id string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.find(id)
	if i < 0 {
		return Message{}, false
	}
	return copyMessage(l.items[i]), true
}

// Messages returns a snapshot in insertion order
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Message, len(l.items))
	for i, m := range l.items {
		out[i] = copyMessage(m)
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Clear empties the log for a new session. Retired ids stay reserved.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
}

// Restore replaces the log with a backend transcript. Backend ids are
// namespaced so they can never collide with generated ones.
func (l *Log) Restore(history []messages.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = l.items[:0]
	for _, bm := range history {
		id := "srv-" + bm.ID.String()
		kind := KindGuess
		if bm.Sender == messages.SenderUser {
			kind = KindClue
		}
		l.seen[id] = struct{}{}
		l.items = append(l.items, Message{
			ID:        id,
			Kind:      kind,
			Text:      bm.Content,
			CreatedAt: bm.CreatedAt,
		})
	}
}

func (l *Log) find(id string) int {
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

func copyMessage(m Message) Message {
	if m.Correct != nil {
		c := *m.Correct
		m.Correct = &c
	}
	return m
}
