// Package gemini is the offline demo backend: it plays the guessing side of
// the game locally, with Gemini producing the guesses.
package gemini

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"
)

// Turn is one line of the game transcript as the guesser sees it
type Turn struct {
	Clue bool
	Text string
}

// Guesser streams the AI's next guess for the clues given so far
type Guesser interface {
	Guess(ctx context.Context, topic string, turns []Turn) iter.Seq2[string, error]
}

// Client streams guesses from the Gemini API
type Client struct {
	client *genai.Client
	model  string
}

// NewClient creates a Gemini API client for model
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

func systemPrompt(topic string) string {
	return fmt.Sprintf(`You are playing a word guessing game. The topic is %s.
The player describes a secret word or phrase without saying it. Reply with a
short, friendly guess of one or two sentences and name exactly one candidate.
Never repeat a guess that was already rejected.`, topic)
}

func (c *Client) Guess(ctx context.Context, topic string, turns []Turn) iter.Seq2[string, error] {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		var role genai.Role = genai.RoleModel
		if t.Clue {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt(topic)}},
		},
	}

	return func(yield func(string, error) bool) {
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, config) {
			if err != nil {
				yield("", fmt.Errorf("gemini stream failed: %w", err))
				return
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}
