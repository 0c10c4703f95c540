package stream

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/apperr"
	"github.com/room4-2/aiticulate/messages"
)

var (
	frameDelimiter = []byte("\n\n")
	dataPrefix     = []byte("data:")
	crlf           = []byte("\r\n")
	lf             = []byte("\n")
)

// Decoder reassembles data frames from an arbitrarily chunked byte stream.
// Bytes are buffered rather than decoded text so a UTF-8 sequence split
// across reads is never mangled; the delimiter is pure ASCII and cannot
// occur inside a multi-byte sequence.
type Decoder struct {
	buf     []byte
	dropped int
}

// Feed appends p to the rolling buffer and returns every event completed by it.
func (d *Decoder) Feed(p []byte) []messages.StreamEvent {
	d.buf = append(d.buf, p...)
	// a trailing \r stays until its \n arrives with the next read
	if bytes.Contains(d.buf, crlf) {
		d.buf = bytes.ReplaceAll(d.buf, crlf, lf)
	}

	var events []messages.StreamEvent
	for {
		i := bytes.Index(d.buf, frameDelimiter)
		if i < 0 {
			break
		}
		segment := d.buf[:i]
		if ev, ok := d.parseSegment(segment); ok {
			events = append(events, ev)
		}
		d.buf = d.buf[i+len(frameDelimiter):]
	}

	// Compact so a long stream does not pin its whole history.
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
	return events
}

// Flush parses whatever remains in the buffer at end of stream.
// Some servers omit the blank line after the last frame.
func (d *Decoder) Flush() []messages.StreamEvent {
	rest := bytes.TrimRight(d.buf, "\r\n")
	d.buf = nil
	if len(bytes.TrimSpace(rest)) == 0 {
		return nil
	}
	if ev, ok := d.parseSegment(rest); ok {
		return []messages.StreamEvent{ev}
	}
	return nil
}

// Dropped returns how many frames were discarded as malformed
func (d *Decoder) Dropped() int {
	return d.dropped
}

func (d *Decoder) parseSegment(segment []byte) (messages.StreamEvent, bool) {
	var ev messages.StreamEvent

	payload, ok := dataPayload(segment)
	if !ok {
		return ev, false
	}
	if !utf8.Valid(payload) {
		d.drop(fmt.Errorf("%w: invalid utf-8", apperr.ErrStreamDecode), payload)
		return ev, false
	}
	if err := sonic.ConfigStd.Unmarshal(payload, &ev); err != nil {
		d.drop(fmt.Errorf("%w: %v", apperr.ErrStreamDecode, err), payload)
		return ev, false
	}
	return ev, true
}

func (d *Decoder) drop(err error, payload []byte) {
	d.dropped++
	log.Warn().Err(err).Str("frame", truncate(payload, 120)).Msg("dropping stream frame")
}

// dataPayload joins the data lines of one segment. Comment lines and other
// fields (event:, id:, retry:) are ignored.
func dataPayload(segment []byte) ([]byte, bool) {
	var (
		out   []byte
		found bool
	)
	for _, line := range bytes.Split(segment, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		value := line[len(dataPrefix):]
		value = bytes.TrimPrefix(value, []byte(" "))
		if found {
			out = append(out, '\n')
		}
		out = append(out, value...)
		found = true
	}
	return out, found
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
