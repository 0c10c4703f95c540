package gemini

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/apperr"
	"github.com/room4-2/aiticulate/messages"
	"github.com/room4-2/aiticulate/stream"
)

const defaultRounds = 5

var openingPattern = regexp.MustCompile(`^Starting game: (.+?) - (.+?), (\d+) rounds?$`)

type conversation struct {
	id          string
	topic       string
	subcategory string
	words       []string
	word        string
	score       int
	roundsLeft  int
	turns       []Turn
	messages    []messages.Message
	createdAt   time.Time
	updatedAt   time.Time
}

// Demo serves the chat-stream and conversation endpoints in process, so
// the game can be played without an account or a backend.
type Demo struct {
	guesser Guesser
	idle    time.Duration

	mu     sync.Mutex
	rng    *rand.Rand
	nextID int
	msgID  int
	convs  map[string]*conversation
}

// DemoOption configures a Demo
type DemoOption func(*Demo)

// WithSeed makes word selection deterministic
func WithSeed(seed int64) DemoOption {
	return func(d *Demo) { d.rng = rand.New(rand.NewSource(seed)) }
}

// WithStreamIdleTimeout bounds the wait for the next guess fragment
func WithStreamIdleTimeout(idle time.Duration) DemoOption {
	return func(d *Demo) { d.idle = idle }
}

func NewDemo(guesser Guesser, opts ...DemoOption) *Demo {
	d := &Demo{
		guesser: guesser,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		convs:   make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ChatStream opens a conversation when conversationID is empty, otherwise
// sends prompt as a clue and streams the guess back.
func (d *Demo) ChatStream(ctx context.Context, conversationID, prompt string) (*stream.Stream, error) {
	pr, pw := io.Pipe()

	if conversationID == "" {
		conv := d.create(prompt)
		go func() {
			greeting := fmt.Sprintf("Let's play %s! Give me your first clue.", conv.topic)
			if err := writeFrame(pw, messages.StreamEvent{Chunk: greeting}); err != nil {
				return
			}
			_ = writeFrame(pw, messages.StreamEvent{Done: true, ConversationID: messages.ID(conv.id)})
			pw.Close()
		}()
		return stream.New(pr, stream.WithIdleTimeout(d.idle)), nil
	}

	topic, turns, err := d.addClue(conversationID, prompt)
	if err != nil {
		pw.Close()
		return nil, err
	}
	go d.respond(ctx, pw, conversationID, topic, turns)
	return stream.New(pr, stream.WithIdleTimeout(d.idle)), nil
}

func (d *Demo) create(prompt string) *conversation {
	topic, sub, rounds := "General", "", defaultRounds
	if m := openingPattern.FindStringSubmatch(strings.TrimSpace(prompt)); m != nil {
		topic, sub = m[1], m[2]
		if n, err := strconv.Atoi(m[3]); err == nil && n > 0 {
			rounds = n
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	words := WordsFor(sub)
	d.rng.Shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
	now := time.Now().UTC()
	conv := &conversation{
		id:          strconv.Itoa(d.nextID),
		topic:       strings.TrimSpace(topic + " " + sub),
		subcategory: sub,
		words:       words[1:],
		word:        words[0],
		roundsLeft:  rounds,
		createdAt:   now,
		updatedAt:   now,
	}
	d.convs[conv.id] = conv
	log.Debug().Str("session", conv.id).Str("topic", conv.topic).Msg("demo conversation created")
	return conv
}

func (d *Demo) addClue(id, clue string) (string, []Turn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conv, ok := d.convs[id]
	if !ok {
		return "", nil, &apperr.StatusError{Status: 404, Body: "conversation not found"}
	}
	conv.turns = append(conv.turns, Turn{Clue: true, Text: clue})
	d.appendMessage(conv, messages.SenderUser, clue)
	return conv.topic, append([]Turn(nil), conv.turns...), nil
}

func (d *Demo) respond(ctx context.Context, pw *io.PipeWriter, id, topic string, turns []Turn) {
	var sb strings.Builder
	for chunk, err := range d.guesser.Guess(ctx, topic, turns) {
		if err != nil {
			log.Warn().Err(err).Str("session", id).Msg("demo guess failed")
			pw.CloseWithError(err)
			return
		}
		sb.WriteString(chunk)
		if err := writeFrame(pw, messages.StreamEvent{Chunk: chunk}); err != nil {
			// consumer went away
			return
		}
	}

	d.finishGuess(id, sb.String())
	_ = writeFrame(pw, messages.StreamEvent{Done: true})
	pw.Close()
}

// finishGuess scores a completed reply: the AI wins the round when the reply
// names the secret word.
func (d *Demo) finishGuess(id, reply string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conv, ok := d.convs[id]
	if !ok {
		return
	}
	conv.turns = append(conv.turns, Turn{Text: reply})
	d.appendMessage(conv, messages.SenderBot, reply)

	if !strings.Contains(strings.ToLower(reply), strings.ToLower(conv.word)) {
		return
	}
	conv.score++
	if conv.roundsLeft > 0 {
		conv.roundsLeft--
	}
	d.nextWord(conv)
}

// ResetRound draws a fresh word and forgets the clues of the current round
func (d *Demo) ResetRound(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	conv, ok := d.convs[id]
	if !ok {
		return &apperr.StatusError{Status: 404, Body: "conversation not found"}
	}
	d.nextWord(conv)
	return nil
}

func (d *Demo) nextWord(conv *conversation) {
	if len(conv.words) == 0 {
		conv.words = WordsFor(conv.subcategory)
		d.rng.Shuffle(len(conv.words), func(i, j int) { conv.words[i], conv.words[j] = conv.words[j], conv.words[i] })
	}
	conv.word = conv.words[0]
	conv.words = conv.words[1:]
	conv.turns = nil
}

func (d *Demo) appendMessage(conv *conversation, sender, content string) {
	d.msgID++
	now := time.Now().UTC()
	conv.messages = append(conv.messages, messages.Message{
		ID:        messages.ID(strconv.Itoa(d.msgID)),
		Sender:    sender,
		Content:   content,
		CreatedAt: now,
	})
	conv.updatedAt = now
}

// Conversation returns the detail view of a demo conversation
func (d *Demo) Conversation(_ context.Context, id string) (*messages.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conv, ok := d.convs[id]
	if !ok {
		return nil, &apperr.StatusError{Status: 404, Body: "conversation not found"}
	}
	return &messages.Conversation{
		ConversationSummary: messages.ConversationSummary{
			ID:          messages.ID(conv.id),
			Title:       "TOPIC: " + conv.topic,
			Score:       conv.score,
			CurrentWord: conv.word,
			NumRounds:   conv.roundsLeft,
			CreatedAt:   conv.createdAt,
			UpdatedAt:   conv.updatedAt,
		},
		Messages: append([]messages.Message(nil), conv.messages...),
	}, nil
}

func writeFrame(w io.Writer, ev messages.StreamEvent) error {
	b, err := sonic.ConfigStd.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}
