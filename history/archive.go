// Package history archives finished games in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"
)

// Round is the result of one round of an archived game
type Round struct {
	Number    int    `json:"number"`
	Word      string `json:"word"`
	AIGuessed bool   `json:"aiGuessed"`
	Reason    string `json:"reason"`
}

// Entry is one transcript line
type Entry struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Game is a finished game
type Game struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	Player     string    `json:"player"`
	Topic      string    `json:"topic"`
	Score      int       `json:"score"`
	AIScore    int       `json:"aiScore"`
	Rounds     []Round   `json:"rounds"`
	Transcript []Entry   `json:"transcript"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Stats summarizes a player's archived games
type Stats struct {
	GamesPlayed  int `json:"gamesPlayed"`
	RoundsPlayed int `json:"roundsPlayed"`
	RoundsWon    int `json:"roundsWon"`
}

const schema = `
	CREATE TABLE IF NOT EXISTS games (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		player TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		ai_score INTEGER NOT NULL DEFAULT 0,
		transcript TEXT NOT NULL DEFAULT '[]',
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS rounds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		word TEXT NOT NULL DEFAULT '',
		ai_guessed BOOLEAN NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_games_player ON games(player);
	CREATE INDEX IF NOT EXISTS idx_rounds_game ON rounds(game_id);
`

// Archive stores finished games
type Archive struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive at path. ":memory:" works for tests.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	// single writer, and keeps an in-memory database on one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Save stores g with its rounds and returns the new id
func (a *Archive) Save(ctx context.Context, g *Game) (int64, error) {
	transcript, err := sonic.ConfigStd.MarshalToString(g.Transcript)
	if err != nil {
		return 0, fmt.Errorf("failed to encode transcript: %w", err)
	}
	if g.FinishedAt.IsZero() {
		g.FinishedAt = time.Now().UTC()
	}
	if g.StartedAt.IsZero() {
		g.StartedAt = g.FinishedAt
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO games (session_id, player, topic, score, ai_score, transcript, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, g.SessionID, g.Player, g.Topic, g.Score, g.AIScore, transcript, g.StartedAt.UTC(), g.FinishedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert game: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, r := range g.Rounds {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rounds (game_id, number, word, ai_guessed, reason)
			VALUES (?, ?, ?, ?, ?)
		`, id, r.Number, r.Word, r.AIGuessed, r.Reason)
		if err != nil {
			return 0, fmt.Errorf("failed to insert round %d: %w", r.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	g.ID = id
	return id, nil
}

// Recent returns up to limit games, newest first. An empty player lists
// every player's games.
func (a *Archive) Recent(ctx context.Context, player string, limit int) ([]Game, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, session_id, player, topic, score, ai_score, transcript, started_at, finished_at
		FROM games
		WHERE ? = '' OR player = ?
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`, player, player, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		var g Game
		var transcript string
		if err := rows.Scan(&g.ID, &g.SessionID, &g.Player, &g.Topic, &g.Score, &g.AIScore, &transcript, &g.StartedAt, &g.FinishedAt); err != nil {
			return nil, err
		}
		if err := sonic.ConfigStd.UnmarshalFromString(transcript, &g.Transcript); err != nil {
			return nil, fmt.Errorf("game %d: corrupt transcript: %w", g.ID, err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range games {
		if games[i].Rounds, err = a.rounds(ctx, games[i].ID); err != nil {
			return nil, err
		}
	}
	return games, nil
}

func (a *Archive) rounds(ctx context.Context, gameID int64) ([]Round, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT number, word, ai_guessed, reason
		FROM rounds
		WHERE game_id = ?
		ORDER BY number
	`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		var r Round
		if err := rows.Scan(&r.Number, &r.Word, &r.AIGuessed, &r.Reason); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PlayerStats counts the games and rounds of player. A round is won by the
// player when the AI did not guess the word.
func (a *Archive) PlayerStats(ctx context.Context, player string) (Stats, error) {
	var s Stats
	err := a.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM games WHERE player = ?),
			COUNT(r.id),
			COALESCE(SUM(CASE WHEN r.ai_guessed THEN 0 ELSE 1 END), 0)
		FROM rounds r
		JOIN games g ON g.id = r.game_id
		WHERE g.player = ?
	`, player, player).Scan(&s.GamesPlayed, &s.RoundsPlayed, &s.RoundsWon)
	if err != nil {
		return Stats{}, err
	}
	return s, nil
}
