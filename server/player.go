package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/apperr"
	"github.com/room4-2/aiticulate/game"
	"github.com/room4-2/aiticulate/history"
	"github.com/room4-2/aiticulate/messages"
	"github.com/room4-2/aiticulate/session"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	maxMessageSize  = 16 * 1024
)

// player is one browser connection and the controller it drives
type player struct {
	id      string
	name    string
	topic   string
	conn    *websocket.Conn
	ctrl    *game.Controller
	archive *history.Archive

	writeChan chan []byte
	closeChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	startedAt time.Time
	rounds    []history.Round
}

func newPlayer(id, name, topic string, conn *websocket.Conn, ctrl *game.Controller, archive *history.Archive) *player {
	ctx, cancel := context.WithCancel(context.Background())
	conn.SetReadLimit(maxMessageSize)

	p := &player{
		id:        id,
		name:      name,
		topic:     topic,
		conn:      conn,
		ctrl:      ctrl,
		archive:   archive,
		writeChan: make(chan []byte, writeBufferSize),
		closeChan: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	p.bindController()
	return p
}

// Start runs the write and read pumps
func (p *player) Start() {
	go p.writePump()
	p.queueMessage(messages.NewStatusMessage(p.id, "connected", "Session established"))
	go p.readPump()
}

// bindController forwards every controller event to the browser
func (p *player) bindController() {
	p.ctrl.OnPhase = func(phase game.Phase) {
		p.queueMessage(messages.NewStatusMessage(p.id, string(phase), ""))
	}
	p.ctrl.OnTick = func(remaining int) {
		p.queueMessage(messages.NewTickMessage(p.id, remaining))
	}
	p.ctrl.OnChunk = func(messageID, text string) {
		p.queueMessage(messages.NewChunkMessage(p.id, messageID, text))
	}
	p.ctrl.OnMessage = func(m session.Message) {
		p.queueMessage(messages.NewLogMessage(p.id, entryPayload(m)))
	}
	p.ctrl.OnTranscript = func(msgs []session.Message) {
		entries := make([]messages.LogEntryPayload, 0, len(msgs))
		for _, m := range msgs {
			entries = append(entries, entryPayload(m))
		}
		p.queueMessage(messages.NewTranscriptMessage(p.id, entries))
	}
	p.ctrl.OnState = func(st session.State) {
		p.queueMessage(messages.NewStateMessage(p.id, messages.StatePayload{
			SessionID:   st.SessionID,
			Round:       st.Round,
			TotalRounds: st.TotalRounds,
			Score:       st.Score,
			AIScore:     st.AIScore,
			Stale:       st.Stale,
		}))
	}
	p.ctrl.OnResolved = func(out game.Outcome) {
		p.queueMessage(messages.NewResolvedMessage(p.id, messages.ResolvedPayload{
			Round:     out.Round,
			AIGuessed: out.AIGuessed,
			Reason:    out.Reason,
			Word:      out.Word,
			LastRound: out.LastRound,
		}))
		p.recordRound(out)
	}
}

func entryPayload(m session.Message) messages.LogEntryPayload {
	return messages.LogEntryPayload{
		ID:        m.ID,
		Kind:      string(m.Kind),
		Role:      m.Kind.Role(),
		Text:      m.Text,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		Editing:   m.Editing,
		Correct:   m.Correct,
	}
}

// recordRound keeps the round for the archive and saves the game after its
// last round.
func (p *player) recordRound(out game.Outcome) {
	p.mu.Lock()
	p.rounds = append(p.rounds, history.Round{
		Number:    out.Round,
		Word:      out.Word,
		AIGuessed: out.AIGuessed,
		Reason:    out.Reason,
	})
	if !out.LastRound || p.archive == nil {
		p.mu.Unlock()
		return
	}
	rounds := p.rounds
	started := p.startedAt
	p.rounds = nil
	p.mu.Unlock()

	st := p.ctrl.State()
	var transcript []history.Entry
	for _, m := range p.ctrl.Transcript() {
		transcript = append(transcript, history.Entry{Kind: string(m.Kind), Text: m.Text})
	}
	if started.IsZero() {
		started = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := p.archive.Save(ctx, &history.Game{
		SessionID:  st.SessionID,
		Player:     p.name,
		Topic:      p.topic,
		Score:      st.Score,
		AIScore:    st.AIScore,
		Rounds:     rounds,
		Transcript: transcript,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("player", p.id).Msg("failed to archive game")
		return
	}
	log.Info().Str("player", p.id).Int64("game", id).Int("score", st.Score).Msg("game archived")
}

// writePump handles all outgoing messages in a single goroutine
func (p *player) writePump() {
	defer func() {
		p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		p.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-p.closeChan:
			return
		case msg, ok := <-p.writeChan:
			if !ok {
				return
			}
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// queueMessage adds a message to the write queue (non-blocking)
func (p *player) queueMessage(msg *messages.ServerMessage) {
	b, err := sonic.ConfigStd.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("encode server message")
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.writeChan <- b:
	default:
		log.Warn().Str("player", p.id).Str("type", msg.Type).Msg("write queue full, dropping message")
	}
}

// Close stops the controller and the connection
func (p *player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.writeChan)
	close(p.closeChan)
	p.mu.Unlock()

	p.cancel()
	p.ctrl.Close()
	p.conn.Close()
}

func (p *player) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *player) readPump() {
	defer p.Close()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if !p.isClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("player", p.id).Msg("websocket read error")
			}
			return
		}

		var msg messages.ClientMessage
		if err := sonic.ConfigStd.Unmarshal(data, &msg); err != nil {
			p.sendError(messages.ErrCodeInvalidMessage, "invalid message format")
			continue
		}
		p.processClientMessage(&msg)
	}
}

func (p *player) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.ClientTypeClue:
		var payload messages.CluePayload
		if err := sonic.ConfigStd.Unmarshal(msg.Payload, &payload); err != nil {
			p.sendError(messages.ErrCodeInvalidMessage, "invalid clue payload")
			return
		}
		if _, err := p.ctrl.SubmitClue(p.ctx, payload.Text); err != nil {
			p.fail(err)
		}

	case messages.ClientTypeEdit:
		var payload messages.EditPayload
		if err := sonic.ConfigStd.Unmarshal(msg.Payload, &payload); err != nil {
			p.sendError(messages.ErrCodeInvalidMessage, "invalid edit payload")
			return
		}
		if err := p.ctrl.EditClue(p.ctx, payload.ID, payload.Text); err != nil {
			p.fail(err)
		}

	case messages.ClientTypeDelete:
		var payload messages.DeletePayload
		if err := sonic.ConfigStd.Unmarshal(msg.Payload, &payload); err != nil {
			p.sendError(messages.ErrCodeInvalidMessage, "invalid delete payload")
			return
		}
		if err := p.ctrl.DeleteMessage(payload.ID); err != nil {
			p.fail(err)
		}

	case messages.ClientTypeControl:
		p.handleControlMessage(msg.Payload)

	default:
		p.sendError(messages.ErrCodeInvalidMessage, "unknown message type: "+msg.Type)
	}
}

func (p *player) handleControlMessage(raw []byte) {
	var payload messages.ControlPayload
	if err := sonic.ConfigStd.Unmarshal(raw, &payload); err != nil {
		p.sendError(messages.ErrCodeInvalidMessage, "invalid control payload")
		return
	}

	var err error
	switch payload.Action {
	case messages.ActionStart:
		p.markStarted()
		err = p.ctrl.Start(p.ctx)
	case messages.ActionAdvance:
		err = p.ctrl.Advance(p.ctx)
	case messages.ActionReset:
		err = p.ctrl.Reset(p.ctx)
	case messages.ActionNewGame:
		if err = p.ctrl.NewGame(p.ctx); err == nil {
			p.mu.Lock()
			p.rounds = nil
			p.mu.Unlock()
			p.markStarted()
			err = p.ctrl.Start(p.ctx)
		}
	case messages.ActionPing:
		p.queueMessage(messages.NewStatusMessage(p.id, "pong", ""))
	default:
		p.sendError(messages.ErrCodeInvalidMessage, "unknown action: "+payload.Action)
		return
	}
	if err != nil {
		p.fail(err)
	}
}

func (p *player) markStarted() {
	p.mu.Lock()
	if p.startedAt.IsZero() || len(p.rounds) == 0 {
		p.startedAt = time.Now()
	}
	p.mu.Unlock()
}

func (p *player) fail(err error) {
	if errors.Is(err, context.Canceled) && p.isClosed() {
		return
	}
	p.sendError(errorCode(err), err.Error())
}

func (p *player) sendError(code, message string) {
	p.queueMessage(messages.NewErrorMessage(p.id, code, message))
}

// errorCode maps controller errors onto the codes browsers understand
func errorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrBusy):
		return messages.ErrCodeBusy
	case errors.Is(err, game.ErrInvalidPhase):
		return messages.ErrCodeInvalidPhase
	case errors.Is(err, game.ErrGameOver):
		return messages.ErrCodeGameOver
	}
	return apperr.Code(err)
}
