package gemini

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"testing"

	"github.com/room4-2/aiticulate/apperr"
)

// scriptGuesser answers every clue with the next scripted chunks
type scriptGuesser struct {
	replies [][]string
	err     error
	topics  []string
	turns   [][]Turn
}

func (g *scriptGuesser) Guess(_ context.Context, topic string, turns []Turn) iter.Seq2[string, error] {
	g.topics = append(g.topics, topic)
	g.turns = append(g.turns, turns)
	var chunks []string
	if len(g.replies) > 0 {
		chunks, g.replies = g.replies[0], g.replies[1:]
	}
	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
		if g.err != nil {
			yield("", g.err)
		}
	}
}

func drain(t *testing.T, d *Demo, id, prompt string) (string, string, error) {
	t.Helper()
	s, err := d.ChatStream(context.Background(), id, prompt)
	if err != nil {
		return "", "", err
	}
	defer s.Close()
	var text, newID string
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			if !s.Completed() {
				t.Fatal("stream ended without done")
			}
			return text, newID, nil
		}
		if err != nil {
			return text, newID, err
		}
		text += ev.Chunk
		if ev.Done {
			newID = ev.ConversationID.String()
		}
	}
}

func TestDemoCreatesConversationFromOpening(t *testing.T) {
	d := NewDemo(&scriptGuesser{}, WithSeed(1))

	text, id, err := drain(t, d, "", "Starting game: Sports - NBA, 3 rounds")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" || !strings.Contains(text, "Sports NBA") {
		t.Fatalf("unexpected greeting %q id %q", text, id)
	}

	conv, err := d.Conversation(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if conv.NumRounds != 3 || conv.Score != 0 {
		t.Fatalf("unexpected conversation %+v", conv.ConversationSummary)
	}
	found := false
	for _, w := range WordsFor("NBA") {
		if w == conv.CurrentWord {
			found = true
		}
	}
	if !found {
		t.Fatalf("word %q is not from the NBA list", conv.CurrentWord)
	}
}

func TestDemoScoresWhenReplyNamesWord(t *testing.T) {
	g := &scriptGuesser{}
	d := NewDemo(g, WithSeed(7))
	_, id, err := drain(t, d, "", "Starting game: Sports - NBA, 5 rounds")
	if err != nil {
		t.Fatal(err)
	}
	conv, _ := d.Conversation(context.Background(), id)
	word := conv.CurrentWord

	g.replies = [][]string{{"Is it", " a ball?"}, {"Is it ", strings.ToLower(word), "?"}}

	text, _, err := drain(t, d, id, "round and bouncy")
	if err != nil {
		t.Fatal(err)
	}
	if text != "Is it a ball?" {
		t.Fatalf("got %q", text)
	}
	if conv, _ := d.Conversation(context.Background(), id); conv.Score != 0 {
		t.Fatalf("wrong guess scored: %+v", conv.ConversationSummary)
	}

	if _, _, err := drain(t, d, id, "another clue"); err != nil {
		t.Fatal(err)
	}
	conv, _ = d.Conversation(context.Background(), id)
	if conv.Score != 1 || conv.NumRounds != 4 || conv.CurrentWord == word {
		t.Fatalf("expected score 1 and a new word, got %+v", conv.ConversationSummary)
	}
	if len(conv.Messages) != 4 || conv.Messages[0].Sender != "user" || conv.Messages[1].Sender != "bot" {
		t.Fatalf("unexpected history %+v", conv.Messages)
	}
	if len(g.turns[1]) != 3 || g.topics[1] != "Sports NBA" {
		t.Fatalf("guesser did not see the transcript: %+v", g.turns[1])
	}
}

func TestDemoUnknownConversation(t *testing.T) {
	d := NewDemo(&scriptGuesser{})
	if _, err := d.ChatStream(context.Background(), "99", "hi"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := d.Conversation(context.Background(), "99"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDemoGuesserErrorFailsStream(t *testing.T) {
	g := &scriptGuesser{err: errors.New("quota exceeded")}
	d := NewDemo(g)
	_, id, err := drain(t, d, "", "Starting game: Computer Science - Programming, 5 rounds")
	if err != nil {
		t.Fatal(err)
	}
	g.replies = [][]string{{"Is it"}}

	text, _, err := drain(t, d, id, "snake language")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected guesser error, got %v", err)
	}
	if text != "Is it" {
		t.Fatalf("expected partial text before the failure, got %q", text)
	}
}

func TestDemoResetRoundDrawsNewWord(t *testing.T) {
	d := NewDemo(&scriptGuesser{}, WithSeed(3))
	_, id, err := drain(t, d, "", "Starting game: Politics - US Politics, 5 rounds")
	if err != nil {
		t.Fatal(err)
	}
	before, _ := d.Conversation(context.Background(), id)
	if err := d.ResetRound(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	after, _ := d.Conversation(context.Background(), id)
	if after.CurrentWord == before.CurrentWord {
		t.Fatalf("expected a different word after reset, still %q", after.CurrentWord)
	}
}

func TestWordsForFallsBack(t *testing.T) {
	if got := WordsFor("nba"); len(got) != 5 || got[0] != "Basketball" {
		t.Fatalf("case-insensitive lookup failed: %v", got)
	}
	if got := WordsFor("Underwater Basket Weaving"); got[0] != "Example" {
		t.Fatalf("expected fallback list, got %v", got)
	}
}
