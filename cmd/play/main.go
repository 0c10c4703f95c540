// Command play is the terminal client: it logs in (or plays the demo as a
// guest) and runs a game in the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/api"
	"github.com/room4-2/aiticulate/auth"
	"github.com/room4-2/aiticulate/config"
	"github.com/room4-2/aiticulate/game"
	"github.com/room4-2/aiticulate/gemini"
	"github.com/room4-2/aiticulate/messages"
	"github.com/room4-2/aiticulate/session"
	"github.com/room4-2/aiticulate/storage"
)

func main() {
	var (
		username    = flag.String("user", "", "log in as this user")
		email       = flag.String("register", "", "register -user with this email first")
		logout      = flag.Bool("logout", false, "forget the stored login and exit")
		category    = flag.String("category", "General", "game category")
		subcategory = flag.String("subcategory", "Mixed", "game subcategory")
		termsFile   = flag.String("terms", "", "upload a document and play its extracted terms")
		maxTerms    = flag.Int("max-terms", 20, "maximum terms to extract with -terms")
		logFile     = flag.String("log", "", "write logs to this file")
	)
	flag.Parse()

	if err := setupLogging(*logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(*username, *email, *logout, *category, *subcategory, *termsFile, *maxTerms); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging keeps the terminal for the game: logs go to a file or nowhere
func setupLogging(path string) error {
	zerolog.TimeFieldFormat = time.RFC3339
	if path == "" {
		log.Logger = zerolog.New(io.Discard)
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	log.Logger = zerolog.New(f).With().Timestamp().Logger()
	return nil
}

func run(username, email string, logout bool, category, subcategory, termsFile string, maxTerms int) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.Open(ctx, cfg)
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	authCtx := auth.New(store)
	client := api.New(cfg.APIBaseURL, authCtx, api.WithTimeouts(cfg.HTTPTimeout, cfg.StreamIdleTimeout))
	if err := authCtx.Hydrate(ctx, client); err != nil {
		log.Warn().Err(err).Msg("could not verify stored login")
	}

	if logout {
		authCtx.Logout(ctx, client.Logout)
		fmt.Println("Logged out.")
		return nil
	}

	if username != "" {
		if err := login(ctx, client, authCtx, username, email); err != nil {
			return err
		}
	}

	var (
		backend interface {
			session.Backend
			game.RoundResetter
		}
		durable storage.Store
		player  string
	)
	switch {
	case authCtx.Authenticated():
		backend = client
		durable = store
		if u := authCtx.User(); u != nil {
			player = u.Username
		}
	case cfg.GeminiAPIKey != "":
		guesser, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		backend = gemini.NewDemo(guesser, gemini.WithStreamIdleTimeout(cfg.StreamIdleTimeout))
		// demo conversations live in memory; keep their ids apart
		durable = storage.NewScoped(store, "guest")
		player = "guest"
	default:
		return errors.New("not logged in: use -user, or set GEMINI_API_KEY to play the demo")
	}

	if termsFile != "" {
		if !authCtx.Authenticated() {
			return errors.New("-terms needs a logged-in user")
		}
		terms, err := uploadTerms(ctx, client, termsFile, maxTerms)
		if err != nil {
			return err
		}
		category = "Custom"
		subcategory = strings.TrimSuffix(filepath.Base(termsFile), filepath.Ext(termsFile))
		fmt.Printf("Extracted %d terms: %s\n", len(terms), strings.Join(terms, ", "))
	}

	if authCtx.Authenticated() {
		if err := selectTopic(ctx, client, subcategory, termsFile != ""); err != nil {
			return err
		}
	}

	sessions := session.NewStore(backend, durable, cfg.TotalRounds)
	ctrl := game.NewController(sessions, session.NewLog(), cfg.RoundDuration,
		game.WithTopic(category, subcategory),
		game.WithRoundResetter(backend),
	)
	defer ctrl.Close()

	p := tea.NewProgram(newModel(ctx, ctrl, player, category+" - "+subcategory), tea.WithAltScreen())
	bind(ctrl, p)
	if _, err := p.Run(); err != nil {
		return err
	}
	st := ctrl.State()
	fmt.Printf("Round %d/%d. You %d : %d AI\n", st.Round, st.TotalRounds, st.Score, st.AIScore)
	return nil
}

func login(ctx context.Context, client *api.Client, authCtx *auth.Context, username, email string) error {
	password := os.Getenv("AITICULATE_PASSWORD")
	if password == "" {
		return errors.New("set AITICULATE_PASSWORD to log in")
	}

	var token string
	if email != "" {
		resp, err := client.Register(ctx, messages.RegisterRequest{Username: username, Email: email, Password: password})
		var fields api.FieldErrors
		if errors.As(err, &fields) {
			return fmt.Errorf("registration rejected: %w", fields)
		}
		if err != nil {
			return err
		}
		token = resp.Token
	} else {
		t, err := client.Login(ctx, username, password)
		if err != nil {
			return err
		}
		token = t
	}

	// the token must be in place before the user lookup authenticates with it
	if err := authCtx.Login(ctx, token, nil); err != nil {
		return err
	}
	user, err := client.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}
	return authCtx.Login(ctx, token, user)
}

func uploadTerms(ctx context.Context, client *api.Client, path string, maxTerms int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	topic := api.TopicName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	return client.UploadTerms(ctx, filepath.Base(path), f, maxTerms, topic)
}

// selectTopic points the backend at the subcategory's word list. A built-in
// topic that cannot be set leaves the backend on its previous one; an
// uploaded list must take effect.
func selectTopic(ctx context.Context, client *api.Client, subcategory string, uploaded bool) error {
	err := client.SetTopic(ctx, api.TopicName(subcategory))
	if err == nil {
		return nil
	}
	if uploaded {
		return fmt.Errorf("play uploaded terms: %w", err)
	}
	log.Warn().Err(err).Str("subcategory", subcategory).Msg("failed to set topic")
	return nil
}
