package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSaveAndRecent(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := &Game{
		SessionID: "s1",
		Player:    "kim",
		Topic:     "Sports NBA",
		Score:     1,
		AIScore:   1,
		Rounds: []Round{
			{Number: 1, Word: "Basketball", Reason: "timeout"},
			{Number: 2, Word: "Lebron", AIGuessed: true, Reason: "guessed"},
		},
		Transcript: []Entry{{Kind: "clue", Text: "round and bouncy"}, {Kind: "guess", Text: "Is it a ball?"}},
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Minute),
	}
	id, err := a.Save(ctx, first)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == 0 || first.ID != id {
		t.Fatalf("expected id to be set, got %d / %d", id, first.ID)
	}

	second := &Game{SessionID: "s2", Player: "alex", StartedAt: start, FinishedAt: start.Add(time.Hour)}
	if _, err := a.Save(ctx, second); err != nil {
		t.Fatal(err)
	}

	games, err := a.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(games) != 2 || games[0].SessionID != "s2" {
		t.Fatalf("expected newest first, got %+v", games)
	}

	mine, err := a.Recent(ctx, "kim", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 {
		t.Fatalf("expected one game for kim, got %d", len(mine))
	}
	g := mine[0]
	if len(g.Rounds) != 2 || !g.Rounds[1].AIGuessed || g.Rounds[0].Word != "Basketball" {
		t.Fatalf("unexpected rounds %+v", g.Rounds)
	}
	if len(g.Transcript) != 2 || g.Transcript[1].Text != "Is it a ball?" {
		t.Fatalf("unexpected transcript %+v", g.Transcript)
	}
	if !g.FinishedAt.Equal(start.Add(2 * time.Minute)) {
		t.Fatalf("finished_at round trip failed: %v", g.FinishedAt)
	}
}

func TestPlayerStats(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	for _, g := range []*Game{
		{SessionID: "1", Player: "kim", Rounds: []Round{{Number: 1, AIGuessed: true}, {Number: 2}}},
		{SessionID: "2", Player: "kim", Rounds: []Round{{Number: 1}}},
		{SessionID: "3", Player: "alex", Rounds: []Round{{Number: 1}}},
	} {
		if _, err := a.Save(ctx, g); err != nil {
			t.Fatal(err)
		}
	}

	s, err := a.PlayerStats(ctx, "kim")
	if err != nil {
		t.Fatalf("PlayerStats: %v", err)
	}
	if s.GamesPlayed != 2 || s.RoundsPlayed != 3 || s.RoundsWon != 2 {
		t.Fatalf("unexpected stats %+v", s)
	}

	none, err := a.PlayerStats(ctx, "nobody")
	if err != nil || none != (Stats{}) {
		t.Fatalf("expected zero stats, got %+v %v", none, err)
	}
}

func TestArchiveOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Save(context.Background(), &Game{SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	a.Close()

	a, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	games, err := a.Recent(context.Background(), "", 0)
	if err != nil || len(games) != 1 {
		t.Fatalf("expected persisted game, got %v %v", games, err)
	}
}
