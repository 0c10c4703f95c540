package main

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/room4-2/aiticulate/game"
	"github.com/room4-2/aiticulate/session"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line string
		want command
	}{
		{"  tall and orange  ", command{kind: cmdClue, text: "tall and orange"}},
		{"/edit 3 a fruit, not a color", command{kind: cmdEdit, index: 3, text: "a fruit, not a color"}},
		{"/delete 2", command{kind: cmdDelete, index: 2}},
		{"/reset", command{kind: cmdReset}},
		{"/next", command{kind: cmdNext}},
		{"/new", command{kind: cmdNew}},
		{"/q", command{kind: cmdQuit}},
	}
	for _, c := range cases {
		got, err := parseCommand(c.line)
		if err != nil {
			t.Fatalf("parseCommand(%q): %v", c.line, err)
		}
		if got != c.want {
			t.Fatalf("parseCommand(%q) = %+v, want %+v", c.line, got, c.want)
		}
	}
}

func TestParseCommandErrors(t *testing.T) {
	if _, err := parseCommand("   "); !errors.Is(err, errEmptyInput) {
		t.Fatalf("expected errEmptyInput, got %v", err)
	}
	for _, line := range []string{"/edit", "/edit x text", "/edit 0 text", "/edit 2", "/delete", "/dance"} {
		if _, err := parseCommand(line); err == nil {
			t.Fatalf("parseCommand(%q) should fail", line)
		}
	}
}

func TestModelAppliesControllerEvents(t *testing.T) {
	var m tea.Model = model{phase: game.PhaseIdle, width: 80, height: 30}

	m, _ = m.Update(entryMsg(session.Message{ID: "c1", Kind: session.KindClue, Text: "round and red"}))
	m, _ = m.Update(entryMsg(session.Message{ID: "g1", Kind: session.KindGuess, Text: "Is it"}))
	m, _ = m.Update(chunkMsg{id: "g1", text: " an apple?"})
	m, _ = m.Update(phaseMsg(game.PhaseArmed))
	m, _ = m.Update(tickMsg(42))

	got := m.(model)
	if len(got.entries) != 2 || got.entries[1].Text != "Is it an apple?" {
		t.Fatalf("unexpected entries %+v", got.entries)
	}
	if got.phase != game.PhaseArmed || got.remaining != 42 {
		t.Fatalf("unexpected phase %s remaining %d", got.phase, got.remaining)
	}

	correct := true
	m, _ = m.Update(entryMsg(session.Message{ID: "g1", Kind: session.KindGuess, Text: "Is it an apple?", Correct: &correct}))
	m, _ = m.Update(resolvedMsg(game.Outcome{Round: 1, AIGuessed: true, Reason: game.ReasonGuessed, Word: "Apple"}))
	got = m.(model)
	if len(got.entries) != 2 || got.entries[1].Correct == nil || !*got.entries[1].Correct {
		t.Fatalf("verdict not applied: %+v", got.entries)
	}
	if got.outcome == nil || got.outcome.Word != "Apple" {
		t.Fatalf("outcome not recorded: %+v", got.outcome)
	}

	m, _ = m.Update(transcriptMsg(nil))
	if n := len(m.(model).entries); n != 0 {
		t.Fatalf("transcript reset left %d entries", n)
	}
}

func TestEditRejectsNonClueLines(t *testing.T) {
	m := model{entries: []session.Message{
		{ID: "c1", Kind: session.KindClue, Text: "red"},
		{ID: "g1", Kind: session.KindGuess, Text: "apple?"},
	}}

	next, cmd := m.execute("/edit 2 green")
	if cmd != nil || next.(model).errText == "" {
		t.Fatal("editing a guess should be refused locally")
	}
	next, cmd = m.execute("/edit 9 green")
	if cmd != nil || next.(model).errText == "" {
		t.Fatal("editing a missing line should be refused locally")
	}
}
