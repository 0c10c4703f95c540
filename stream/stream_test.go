package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/room4-2/aiticulate/apperr"
)

func TestOpenRejectsNon2xxBeforeEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
	s, err := Open(context.Background(), srv.Client(), req)
	if s != nil {
		t.Fatal("expected no stream")
	}
	if !errors.Is(err, apperr.ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	var se *apperr.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %v", err)
	}
}

func TestOpenTimesOutWaitingForHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
	start := time.Now()
	s, err := Open(context.Background(), srv.Client(), req, WithIdleTimeout(100*time.Millisecond))
	if s != nil {
		t.Fatal("expected no stream")
	}
	if !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Fatalf("Open took %s", d)
	}
}

func TestRecvConsumesFlushedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{"data: {\"chu", "nk\":\"Is\"}\n\ndata: {\"chunk\":\" it\"}\n", "\ndata: {\"done\":true,\"conversation_id\":\"s1\"}\n\n"} {
			_, _ = w.Write([]byte(part))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
	s, err := Open(context.Background(), srv.Client(), req, WithIdleTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	var text strings.Builder
	var convID string
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		text.WriteString(ev.Chunk)
		if ev.Done {
			convID = string(ev.ConversationID)
		}
	}
	if text.String() != "Is it" {
		t.Fatalf("expected accumulated text %q, got %q", "Is it", text.String())
	}
	if convID != "s1" {
		t.Fatalf("expected conversation id s1, got %q", convID)
	}
	if !s.Completed() {
		t.Fatal("stream should be completed")
	}
}

func TestRecvReportsEOFWithoutDone(t *testing.T) {
	s := New(io.NopCloser(strings.NewReader("data: {\"chunk\":\"a\"}\n\n")))
	if _, err := s.Recv(); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if _, err := s.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if s.Completed() {
		t.Fatal("stream without done frame must not report completion")
	}
	// EOF is sticky
	if _, err := s.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF again, got %v", err)
	}
}

func TestIdleTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	s := New(pr, WithIdleTimeout(50*time.Millisecond))
	go func() {
		_, _ = pw.Write([]byte("data: {\"chunk\":\"a\"}\n\n"))
	}()

	if ev, err := s.Recv(); err != nil || ev.Chunk != "a" {
		t.Fatalf("expected first event, got %+v %v", ev, err)
	}
	_, err := s.Recv()
	if !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCloseUnblocksRecv(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := New(pr)

	done := make(chan error, 1)
	go func() {
		_, err := s.Recv()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-done:
		if err == nil || errors.Is(err, io.EOF) {
			t.Fatalf("expected read error after close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
}
