// Command guess streams one Gemini guess for a clue, to check the API key
// and model outside a game.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/config"
	"github.com/room4-2/aiticulate/gemini"
)

func main() {
	topic := flag.String("topic", "Sports NBA", "game topic")
	timeout := flag.Duration("timeout", 30*time.Second, "give up after this long")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	clue := strings.Join(flag.Args(), " ")
	if clue == "" {
		clue = "He wore number 23 for the Bulls"
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.GeminiAPIKey == "" {
		log.Fatal().Msg("GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create client")
	}

	log.Info().Str("model", cfg.GeminiModel).Str("clue", clue).Msg("asking for a guess")
	start := time.Now()
	for chunk, err := range client.Guess(ctx, *topic, []gemini.Turn{{Clue: true, Text: clue}}) {
		if err != nil {
			log.Fatal().Err(err).Msg("guess failed")
		}
		fmt.Print(chunk)
	}
	fmt.Println()
	log.Info().Dur("took", time.Since(start)).Msg("done")
}
