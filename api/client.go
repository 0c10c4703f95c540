// Package api is the HTTP client for the game backend.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/apperr"
	"github.com/room4-2/aiticulate/messages"
	"github.com/room4-2/aiticulate/stream"
)

var json = sonic.ConfigStd

const maxErrorBody = 4 * 1024

// TokenSource supplies the opaque auth token; "" means logged out
type TokenSource interface {
	Token() string
}

// Client talks to the backend REST and streaming endpoints
type Client struct {
	baseURL     string
	tokens      TokenSource
	http        *http.Client // bounded, for plain requests
	streaming   *http.Client // no overall deadline, guarded by the idle watchdog
	idleTimeout time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces both underlying HTTP clients (tests)
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
		cl.streaming = c
	}
}

// WithTimeouts sets the request timeout and the stream idle timeout
func WithTimeouts(request, streamIdle time.Duration) Option {
	return func(cl *Client) {
		cl.http = &http.Client{Timeout: request}
		cl.idleTimeout = streamIdle
	}
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		tokens:      tokens,
		http:        &http.Client{Timeout: 20 * time.Second},
		streaming:   &http.Client{},
		idleTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChatStream sends prompt to the conversation and returns the reply stream.
// An empty conversationID starts a new conversation.
func (c *Client) ChatStream(ctx context.Context, conversationID, prompt string) (*stream.Stream, error) {
	body := messages.ChatStreamRequest{Prompt: prompt}
	if conversationID != "" {
		body.ConversationID = &conversationID
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/chat-stream/", body)
	if err != nil {
		return nil, err
	}
	s, err := stream.Open(ctx, c.streaming, req, stream.WithIdleTimeout(c.idleTimeout))
	if err != nil {
		log.Error().Err(err).Str("conversation", conversationID).Msg("chat stream failed")
		return nil, err
	}
	return s, nil
}

// Conversation fetches a conversation with its messages
func (c *Client) Conversation(ctx context.Context, id string) (*messages.Conversation, error) {
	var out messages.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id)+"/", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch conversation %s: %w", id, err)
	}
	return &out, nil
}

// Conversations lists the user's conversations, most recent first
func (c *Client) Conversations(ctx context.Context) ([]messages.ConversationSummary, error) {
	var out []messages.ConversationSummary
	if err := c.do(ctx, http.MethodGet, "/conversations/", nil, &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// ResetRound asks the backend to restart the current round of a conversation
func (c *Client) ResetRound(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(id)+"/reset-round/", nil, nil); err != nil {
		return fmt.Errorf("reset round %s: %w", id, err)
	}
	return nil
}

// SetTopic selects the word list the backend draws from. Pass a name built
// with TopicName.
func (c *Client) SetTopic(ctx context.Context, topicName string) error {
	if err := c.do(ctx, http.MethodPost, "/set-topic/", messages.SetTopicRequest{TopicName: topicName}, nil); err != nil {
		return fmt.Errorf("set topic %s: %w", topicName, err)
	}
	return nil
}

// TopicName turns a subcategory into the backend's topic key:
// "Historical Figures" becomes "historical_figures".
func TopicName(subcategory string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(subcategory)), " ", "_")
}

// UploadTerms sends a document for term extraction
func (c *Client) UploadTerms(ctx context.Context, filename string, r io.Reader, maxTerms int, topic string) ([]string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := w.WriteField("max_terms", strconv.Itoa(maxTerms)); err != nil {
		return nil, err
	}
	if err := w.WriteField("topic_name", topic); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-terms/", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	var out messages.UploadTermsResponse
	if err := c.send(req, &out); err != nil {
		return nil, fmt.Errorf("upload terms: %w", err)
	}
	return out.Terms, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	return req, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.tokens == nil {
		return
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newJSONRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Warn().Str("path", req.URL.Path).Int("status", resp.StatusCode).Msg("backend request failed")
		return &apperr.StatusError{Status: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
