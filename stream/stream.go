// Package stream consumes the backend's chat stream: an HTTP body flushed
// incrementally as "data: {json}\n\n" frames.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/room4-2/aiticulate/apperr"
	"github.com/room4-2/aiticulate/messages"
)

const (
	readBufferSize = 4 * 1024
	maxErrorBody   = 512
)

// Option configures a Stream
type Option func(*Stream)

// WithIdleTimeout fails the stream with apperr.ErrTimeout when no event
// arrives within d. Zero disables the watchdog.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Stream) { s.idle = d }
}

// Stream yields decoded events in arrival order
type Stream struct {
	body    io.ReadCloser
	dec     Decoder
	pending []messages.StreamEvent
	readBuf []byte

	idle     time.Duration
	watchdog *time.Timer
	timedOut atomic.Bool

	completed bool
	eof       bool
	err       error

	cancel    context.CancelFunc // releases the request opened by Open
	closeOnce sync.Once
}

// Open performs req and returns a Stream over its body. A non-2xx status
// fails with a *apperr.StatusError before any event is produced. The idle
// timeout also bounds the wait for the response headers.
func Open(ctx context.Context, client *http.Client, req *http.Request, opts ...Option) (*Stream, error) {
	if client == nil {
		client = http.DefaultClient
	}
	var cfg Stream
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	var (
		headerTimer   *time.Timer
		headerTimeout atomic.Bool
	)
	if cfg.idle > 0 {
		headerTimer = time.AfterFunc(cfg.idle, func() {
			headerTimeout.Store(true)
			cancel()
		})
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if headerTimer != nil {
		headerTimer.Stop()
	}
	if headerTimeout.Load() {
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return nil, fmt.Errorf("%w: no response within %s", apperr.ErrTimeout, cfg.idle)
	}
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", apperr.ErrTimeout, err)
		}
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		defer cancel()
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &apperr.StatusError{Status: resp.StatusCode, Body: string(body)}
	}
	s := New(resp.Body, opts...)
	s.cancel = cancel
	return s, nil
}

// New wraps an already established body
func New(body io.ReadCloser, opts ...Option) *Stream {
	s := &Stream{
		body:    body,
		readBuf: make([]byte, readBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idle > 0 {
		s.watchdog = time.AfterFunc(s.idle, func() {
			s.timedOut.Store(true)
			s.body.Close()
		})
	}
	return s
}

// Recv returns the next event. It returns io.EOF once the body is exhausted,
// apperr.ErrTimeout when the idle watchdog fired, or the read error.
func (s *Stream) Recv() (messages.StreamEvent, error) {
	for len(s.pending) == 0 {
		if s.err != nil {
			return messages.StreamEvent{}, s.err
		}
		if s.eof {
			s.finish(io.EOF)
			continue
		}
		s.fill()
	}

	ev := s.pending[0]
	s.pending = s.pending[1:]
	if ev.Done {
		s.completed = true
	}
	if s.watchdog != nil {
		s.watchdog.Reset(s.idle)
	}
	return ev, nil
}

// fill performs one read and queues whatever events it completed
func (s *Stream) fill() {
	n, err := s.body.Read(s.readBuf)
	if n > 0 {
		s.pending = append(s.pending, s.dec.Feed(s.readBuf[:n])...)
	}
	if err == nil {
		return
	}
	if s.timedOut.Load() {
		s.finish(apperr.ErrTimeout)
		return
	}
	if errors.Is(err, io.EOF) {
		s.pending = append(s.pending, s.dec.Flush()...)
		s.eof = true
		return
	}
	s.finish(fmt.Errorf("stream read failed: %w", err))
}

func (s *Stream) finish(err error) {
	s.err = err
	s.Close()
}

// Completed reports whether a terminal done event was received
func (s *Stream) Completed() bool {
	return s.completed
}

// Dropped returns the number of malformed frames skipped so far
func (s *Stream) Dropped() int {
	return s.dec.Dropped()
}

// Close releases the body and stops the watchdog. Safe to call repeatedly.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.watchdog != nil {
			s.watchdog.Stop()
		}
		err = s.body.Close()
		if s.cancel != nil {
			s.cancel()
		}
	})
	return err
}
