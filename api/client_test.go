package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/room4-2/aiticulate/apperr"
	"github.com/room4-2/aiticulate/messages"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(t *testing.T, token string, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api/", staticToken(token), WithTimeouts(5*time.Second, 5*time.Second))
}

func TestChatStreamSendsNullIDAndToken(t *testing.T) {
	var gotBody, gotAuth string
	c := newTestClient(t, "abc", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat-stream/" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"chunk\":\"Is\",\"done\":false}\n\n")
		fmt.Fprint(w, "data: {\"done\":true,\"conversation_id\":\"s1\"}\n\n")
	})

	s, err := c.ChatStream(context.Background(), "", "round ball")
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer s.Close()

	var text string
	var id messages.ID
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		text += ev.Chunk
		if ev.Done {
			id = ev.ConversationID
		}
	}

	if !strings.Contains(gotBody, `"conversation_id":null`) {
		t.Fatalf("expected null conversation id, body %s", gotBody)
	}
	if gotAuth != "Token abc" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if text != "Is" || id != "s1" {
		t.Fatalf("got text %q id %q", text, id)
	}
}

func TestChatStreamNon2xx(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.ChatStream(context.Background(), "7", "hi")
	if !errors.Is(err, apperr.ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	var se *apperr.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %v", err)
	}
}

func TestConversationDecodesNumericIDs(t *testing.T) {
	c := newTestClient(t, "abc", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/42/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":42,"title":"t","score":3,"current_word":"Lakers","num_rounds":5,
			"messages":[{"id":1,"sender":"user","content":"purple team"},{"id":2,"sender":"bot","content":"Lakers?"}]}`)
	})

	conv, err := c.Conversation(context.Background(), "42")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if conv.ID != "42" || conv.Score != 3 || conv.CurrentWord != "Lakers" || len(conv.Messages) != 2 {
		t.Fatalf("unexpected conversation %+v", conv)
	}
	if conv.Messages[1].Sender != messages.SenderBot {
		t.Fatalf("expected bot sender, got %q", conv.Messages[1].Sender)
	}
}

func TestConversationNotFound(t *testing.T) {
	c := newTestClient(t, "abc", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.Conversation(context.Background(), "9")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConversationsList(t *testing.T) {
	c := newTestClient(t, "abc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":2,"score":1},{"id":"1","score":0}]`)
	})

	list, err := c.Conversations(context.Background())
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(list) != 2 || list[0].ID != "2" || list[1].ID != "1" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestRegisterFieldErrors(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"username":["A user with that username already exists."],"error":"bad"}`)
	})

	_, err := c.Register(context.Background(), messages.RegisterRequest{Username: "kim"})
	var fe FieldErrors
	if !errors.As(err, &fe) {
		t.Fatalf("expected FieldErrors, got %v", err)
	}
	if fe["username"] != "A user with that username already exists." || fe["error"] != "bad" {
		t.Fatalf("unexpected field errors %v", fe)
	}
}

func TestRegisterSuccess(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/register/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"token":"t1","user_id":5,"username":"kim","email":"k@x.io"}`)
	})

	resp, err := c.Register(context.Background(), messages.RegisterRequest{Username: "kim"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.Token != "t1" || resp.UserID != "5" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/token/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("logged-out client sent Authorization")
		}
		fmt.Fprint(w, `{"token":"t2"}`)
	})

	token, err := c.Login(context.Background(), "kim", "pw")
	if err != nil || token != "t2" {
		t.Fatalf("Login = %q, %v", token, err)
	}
}

func TestCurrentUserUnauthorized(t *testing.T) {
	c := newTestClient(t, "stale", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail":"Invalid token."}`)
	})

	_, err := c.CurrentUser(context.Background())
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCurrentUserWithoutTokenSkipsNetwork(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})

	if _, err := c.CurrentUser(context.Background()); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestUploadTerms(t *testing.T) {
	c := newTestClient(t, "abc", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if r.FormValue("max_terms") != "3" || r.FormValue("topic_name") != "Biology" {
			t.Errorf("unexpected fields %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		if hdr.Filename != "notes.pdf" || string(b) != "%PDF" {
			t.Errorf("unexpected file %s %q", hdr.Filename, b)
		}
		fmt.Fprint(w, `{"terms":["Mitosis","Ribosome","Enzyme"]}`)
	})

	terms, err := c.UploadTerms(context.Background(), "notes.pdf", strings.NewReader("%PDF"), 3, "Biology")
	if err != nil {
		t.Fatalf("UploadTerms: %v", err)
	}
	if len(terms) != 3 || terms[0] != "Mitosis" {
		t.Fatalf("unexpected terms %v", terms)
	}
}

func TestResetRoundAndLogout(t *testing.T) {
	var paths []string
	c := newTestClient(t, "abc", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.ResetRound(context.Background(), "s1"); err != nil {
		t.Fatalf("ResetRound: %v", err)
	}
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	want := []string{"POST /api/conversations/s1/reset-round/", "POST /api/auth/logout/"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
}

func TestSetTopic(t *testing.T) {
	var got, auth string
	c := newTestClient(t, "abc", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/set-topic/" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})

	if err := c.SetTopic(context.Background(), TopicName("  Historical Figures ")); err != nil {
		t.Fatalf("SetTopic: %v", err)
	}
	if got != `{"topic_name":"historical_figures"}` {
		t.Fatalf("unexpected body %s", got)
	}
	if auth != "Token abc" {
		t.Fatalf("Authorization = %q", auth)
	}
}

func TestSetTopicRejected(t *testing.T) {
	c := newTestClient(t, "abc", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown topic", http.StatusBadRequest)
	})
	var se *apperr.StatusError
	if err := c.SetTopic(context.Background(), "nope"); !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %v", err)
	}
}

func TestChatStreamTimesOutWithoutHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, nil, WithTimeouts(time.Second, 200*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := c.ChatStream(context.Background(), "7", "hi")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, apperr.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("ChatStream still blocked with a 200ms idle timeout")
	}
}
