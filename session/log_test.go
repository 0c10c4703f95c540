package session

import (
	"errors"
	"testing"

	"github.com/room4-2/aiticulate/apperr"
	"github.com/room4-2/aiticulate/messages"
)

func mustAppend(t *testing.T, l *Log, kind Kind, text string) string {
	t.Helper()
	id, err := l.Append(Message{Kind: kind, Text: text})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return id
}

func texts(l *Log) []string {
	var out []string
	for _, m := range l.Messages() {
		out = append(out, m.Text)
	}
	return out
}

func TestAppendGeneratesUniqueIDs(t *testing.T) {
	l := NewLog()
	a := mustAppend(t, l, KindClue, "a")
	b := mustAppend(t, l, KindGuess, "b")
	if a == "" || a == b {
		t.Fatalf("expected distinct ids, got %q %q", a, b)
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 messages, got %d", l.Len())
	}
}

func TestAppendRejectsReusedIDAfterClear(t *testing.T) {
	l := NewLog()
	if _, err := l.Append(Message{ID: "x", Kind: KindClue}); err != nil {
		t.Fatal(err)
	}
	l.Remove("x")
	if _, err := l.Append(Message{ID: "x", Kind: KindClue}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID after remove, got %v", err)
	}
	l.Clear()
	if _, err := l.Append(Message{ID: "x", Kind: KindClue}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID after clear, got %v", err)
	}
}

func TestAppendChunkAccumulates(t *testing.T) {
	l := NewLog()
	id := mustAppend(t, l, KindGuess, "")
	for _, frag := range []string{"Is", " it", " a", " ball?"} {
		if err := l.AppendChunk(id, frag); err != nil {
			t.Fatalf("AppendChunk: %v", err)
		}
	}
	m, _ := l.Get(id)
	if m.Text != "Is it a ball?" {
		t.Fatalf("got %q", m.Text)
	}
	if err := l.AppendChunk("missing", "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTextMissingIsNoop(t *testing.T) {
	l := NewLog()
	if l.UpdateText("nope", "x") {
		t.Fatal("expected false for missing id")
	}
}

func TestEditTruncatesStaleTail(t *testing.T) {
	l := NewLog()
	clue1 := mustAppend(t, l, KindClue, "clue1")
	mustAppend(t, l, KindGuess, "guess1")
	mustAppend(t, l, KindClue, "clue2")
	mustAppend(t, l, KindGuess, "guess2")

	if err := l.BeginEdit(clue1); err != nil {
		t.Fatalf("BeginEdit: %v", err)
	}
	if m, _ := l.Get(clue1); !m.Editing {
		t.Fatal("expected editing flag")
	}
	if err := l.CommitEdit(clue1, "clue1'"); err != nil {
		t.Fatalf("CommitEdit: %v", err)
	}

	got := l.Messages()
	if len(got) != 1 || got[0].Text != "clue1'" || got[0].ID != clue1 || got[0].Editing {
		t.Fatalf("expected [clue1'], got %+v", got)
	}
}

func TestEditOnlyClues(t *testing.T) {
	l := NewLog()
	g := mustAppend(t, l, KindGuess, "guess")
	if err := l.BeginEdit(g); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable, got %v", err)
	}
	if err := l.CommitEdit(g, "x"); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable, got %v", err)
	}
}

func TestTruncateAfterAndRemove(t *testing.T) {
	l := NewLog()
	a := mustAppend(t, l, KindClue, "a")
	b := mustAppend(t, l, KindGuess, "b")
	mustAppend(t, l, KindSystem, "c")

	if err := l.TruncateAfter(b); err != nil {
		t.Fatal(err)
	}
	if got := texts(l); len(got) != 2 {
		t.Fatalf("expected [a b], got %v", got)
	}
	if !l.Remove(a) || l.Remove(a) {
		t.Fatal("expected first remove to succeed and second to fail")
	}
	if err := l.TruncateAfter(a); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerdictOnlyOnGuesses(t *testing.T) {
	l := NewLog()
	c := mustAppend(t, l, KindClue, "c")
	g := mustAppend(t, l, KindGuess, "g")

	if err := l.SetVerdict(c, true); err == nil {
		t.Fatal("expected error setting verdict on a clue")
	}
	if err := l.SetVerdict(g, true); err != nil {
		t.Fatal(err)
	}
	snap := l.Messages()
	*snap[1].Correct = false
	if m, _ := l.Get(g); m.Correct == nil || !*m.Correct {
		t.Fatal("snapshot mutation leaked into the log")
	}
}

func TestRestoreMapsSenders(t *testing.T) {
	l := NewLog()
	mustAppend(t, l, KindSystem, "old")
	l.Restore([]messages.Message{
		{ID: "1", Sender: messages.SenderUser, Content: "purple team"},
		{ID: "2", Sender: messages.SenderBot, Content: "Lakers?"},
	})

	got := l.Messages()
	if len(got) != 2 || got[0].Kind != KindClue || got[1].Kind != KindGuess || got[1].Text != "Lakers?" {
		t.Fatalf("unexpected restore %+v", got)
	}
	if got[0].Kind.Role() != "user" || got[1].Kind.Role() != "ai" {
		t.Fatalf("unexpected roles %s %s", got[0].Kind.Role(), got[1].Kind.Role())
	}
}
