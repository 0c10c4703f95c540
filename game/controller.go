package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/apperr"
	"github.com/room4-2/aiticulate/messages"
	"github.com/room4-2/aiticulate/session"
)

// RoundResetter is implemented by backends that can restart a round
type RoundResetter interface {
	ResetRound(ctx context.Context, conversationID string) error
}

// Option configures a Controller
type Option func(*Controller)

// WithTicker replaces the 1-second countdown ticker (tests)
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(c *Controller) { c.newTicker = newTicker }
}

// WithTopic sets the category the opening prompt announces
func WithTopic(category, subcategory string) Option {
	return func(c *Controller) {
		c.category = category
		c.subcategory = subcategory
	}
}

// WithRoundResetter lets Reset tell the backend about a restarted round
func WithRoundResetter(r RoundResetter) Option {
	return func(c *Controller) { c.resetter = r }
}

// Controller drives rounds: it arms the countdown, sends clues through the
// session store and resolves rounds from the backend's score.
type Controller struct {
	store *session.Store
	log   *session.Log

	roundSeconds int
	newTicker    func(time.Duration) Ticker
	resetter     RoundResetter
	category     string
	subcategory  string

	mu           sync.Mutex
	phase        Phase
	busy         bool // Start or Advance is talking to the backend
	closed       bool
	remaining    int
	gen          uint64
	lastReason   string
	stopTicker   chan struct{}
	cancelStream context.CancelFunc
	wg           sync.WaitGroup
	dispatch     *dispatcher

	// Callbacks, run in order on the controller's dispatch goroutine
	OnPhase      func(phase Phase)
	OnTick       func(remaining int)
	OnChunk      func(messageID, text string)
	OnMessage    func(msg session.Message)
	OnTranscript func(msgs []session.Message)
	OnResolved   func(outcome Outcome)
	OnState      func(state session.State)
}

func NewController(store *session.Store, msgLog *session.Log, roundDuration time.Duration, opts ...Option) *Controller {
	secs := int(roundDuration / time.Second)
	if secs < 1 {
		secs = 1
	}
	c := &Controller{
		store:        store,
		log:          msgLog,
		roundSeconds: secs,
		newTicker:    newRealTicker,
		category:     "General",
		subcategory:  "Mixed",
		phase:        PhaseIdle,
		dispatch:     newDispatcher(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// events collects the callbacks of one transition
type events []func()

func (e *events) add(fn func()) { *e = append(*e, fn) }

// flush queues ev for delivery. c.mu held.
func (c *Controller) flush(ev events) {
	c.dispatch.push(ev...)
}

// Start resumes the persisted session or opens a new one, then arms the
// first round.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.busy:
		c.mu.Unlock()
		return ErrBusy
	case c.phase != PhaseIdle:
		c.mu.Unlock()
		return ErrInvalidPhase
	}
	c.busy = true
	c.mu.Unlock()

	err := c.openSession(ctx)

	c.mu.Lock()
	c.busy = false
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	var ev events
	c.arm(&ev, c.roundSeconds)
	st := c.store.State()
	ev.add(func() { c.emitState(st) })
	c.flush(ev)
	c.mu.Unlock()
	return nil
}

func (c *Controller) openSession(ctx context.Context) error {
	if c.store.State().SessionID == "" {
		// the saved id survives a failed resume so the next Start retries it
		history, err := c.store.Resume(ctx)
		if err != nil {
			return fmt.Errorf("failed to resume session: %w", err)
		}
		if len(history) > 0 {
			c.log.Restore(history)
			snapshot := c.log.Messages()
			c.mu.Lock()
			c.dispatch.push(func() { c.emitTranscript(snapshot) })
			c.mu.Unlock()
		}
	}
	if c.store.State().SessionID != "" {
		return nil
	}

	prompt := fmt.Sprintf("Starting game: %s - %s, %d rounds", c.category, c.subcategory, c.store.State().TotalRounds)
	res, err := c.store.CreateSession(ctx, prompt, nil)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	log.Info().Str("session", res.SessionID).Msg("game session created")
	return nil
}

// SubmitClue validates text and sends it to the AI. The reply streams in
// through the callbacks and the round resolves asynchronously.
func (c *Controller) SubmitClue(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	if err := c.checkClue(text); err != nil {
		c.mu.Unlock()
		return "", err
	}
	clue := session.Message{Kind: session.KindClue, Text: strings.TrimSpace(text)}
	id, err := c.log.Append(clue)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	clue, _ = c.log.Get(id)

	var ev events
	ev.add(func() { c.emitMessage(clue) })
	c.send(ctx, &ev, clue.Text)
	c.flush(ev)
	c.mu.Unlock()
	return id, nil
}

// EditClue rewrites an earlier clue, drops everything after it and sends
// the new text to the AI.
func (c *Controller) EditClue(ctx context.Context, id, text string) error {
	c.mu.Lock()
	if err := c.checkClue(text); err != nil {
		c.mu.Unlock()
		return err
	}
	text = strings.TrimSpace(text)
	if err := c.log.CommitEdit(id, text); err != nil {
		c.mu.Unlock()
		return err
	}

	var ev events
	snapshot := c.log.Messages()
	ev.add(func() { c.emitTranscript(snapshot) })
	c.send(ctx, &ev, text)
	c.flush(ev)
	c.mu.Unlock()
	return nil
}

// DeleteMessage removes a message from the transcript. Not allowed while
// a reply is streaming.
func (c *Controller) DeleteMessage(id string) error {
	c.mu.Lock()
	if c.phase == PhaseAwaitingResponse {
		c.mu.Unlock()
		return ErrBusy
	}
	if !c.log.Remove(id) {
		c.mu.Unlock()
		return fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	snapshot := c.log.Messages()
	c.dispatch.push(func() { c.emitTranscript(snapshot) })
	c.mu.Unlock()
	return nil
}

// checkClue must be called with c.mu held
func (c *Controller) checkClue(text string) error {
	switch {
	case c.closed:
		return ErrClosed
	case c.phase == PhaseAwaitingResponse:
		return ErrBusy
	case c.phase != PhaseArmed:
		return ErrInvalidPhase
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("%w: clue is empty", apperr.ErrInvalidClue)
	}
	word := c.store.State().CurrentWord
	if word != "" && strings.Contains(strings.ToLower(trimmed), strings.ToLower(word)) {
		return fmt.Errorf("%w: clue contains the secret word", apperr.ErrInvalidClue)
	}
	return nil
}

// send moves Armed -> AwaitingResponse and starts the exchange. c.mu held.
func (c *Controller) send(ctx context.Context, ev *events, prompt string) {
	c.stopCountdown()
	c.gen++
	gen := c.gen
	c.setPhase(ev, PhaseAwaitingResponse)

	st := c.store.State()
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelStream = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.exchange(streamCtx, gen, prompt, st.AIScore, st.CurrentWord)
	}()
}

func (c *Controller) exchange(ctx context.Context, gen uint64, prompt string, scoreBefore int, word string) {
	var guessID string
	onEvent := func(e messages.StreamEvent) {
		if e.Chunk == "" {
			return
		}
		// checked and appended under one lock so a Reset cannot slip between
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen || c.phase != PhaseAwaitingResponse {
			return
		}
		if guessID == "" {
			id, err := c.log.Append(session.Message{Kind: session.KindGuess, Text: e.Chunk})
			if err != nil {
				log.Error().Err(err).Msg("failed to add guess")
				return
			}
			guessID = id
			// the new message already carries the first fragment
			if m, ok := c.log.Get(id); ok {
				c.dispatch.push(func() { c.emitMessage(m) })
			}
			return
		}
		if err := c.log.AppendChunk(guessID, e.Chunk); err != nil {
			return
		}
		id, chunk := guessID, e.Chunk
		c.dispatch.push(func() { c.emitChunk(id, chunk) })
	}

	_, err := c.store.Exchange(ctx, prompt, onEvent)
	if ctx.Err() != nil {
		// reset or closed, the round was already taken over
		return
	}
	if err != nil {
		c.fail(gen, guessID, word, err)
		return
	}

	st, err := c.store.Refresh(ctx)
	if err != nil {
		c.fail(gen, guessID, word, err)
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.phase != PhaseAwaitingResponse {
		c.mu.Unlock()
		return
	}
	c.cancelStream = nil
	var ev events
	guessed := st.AIScore > scoreBefore
	if guessID != "" {
		if err := c.log.SetVerdict(guessID, guessed); err == nil {
			if m, ok := c.log.Get(guessID); ok {
				ev.add(func() { c.emitMessage(m) })
			}
		}
	}
	ev.add(func() { c.emitState(st) })
	if guessed {
		c.resolve(&ev, Outcome{AIGuessed: true, Reason: ReasonGuessed, Word: word}, "")
	} else {
		// wrong guess, the player keeps the rest of the countdown
		c.arm(&ev, c.remaining)
	}
	c.flush(ev)
	c.mu.Unlock()
}

// fail resolves the round after a stream or refresh error. Only an idle
// timeout counts as a point for the player.
func (c *Controller) fail(gen uint64, guessID, word string, err error) {
	c.mu.Lock()
	if c.gen != gen || c.phase != PhaseAwaitingResponse {
		c.mu.Unlock()
		return
	}
	c.cancelStream = nil
	log.Warn().Err(err).Str("code", apperr.Code(err)).Msg("round ended by error")

	var ev events
	if guessID != "" {
		if verr := c.log.SetVerdict(guessID, false); verr == nil {
			if m, ok := c.log.Get(guessID); ok {
				ev.add(func() { c.emitMessage(m) })
			}
		}
	}

	out := Outcome{Reason: ReasonError, Word: word, Err: err}
	var note string
	if errors.Is(err, apperr.ErrTimeout) {
		out.Reason = ReasonTimeout
		st := c.store.AwardPoint()
		note = "The AI took too long to answer. You scored a point!" + revealWord(word)
		ev.add(func() { c.emitState(st) })
	} else {
		note = "Something went wrong while the AI was answering: " + err.Error()
	}
	c.resolve(&ev, out, note)
	c.flush(ev)
	c.mu.Unlock()
}

// Advance moves from a resolved round to the next one. When the AI missed
// the last word it was revealed, so the backend draws a new one first.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkAdvance(); err != nil {
		c.mu.Unlock()
		return err
	}
	st := c.store.State()
	if st.Round >= st.TotalRounds {
		c.mu.Unlock()
		return ErrGameOver
	}

	if c.lastReason == ReasonTimeout && c.resetter != nil && st.SessionID != "" {
		c.busy = true
		c.mu.Unlock()
		c.redrawWord(ctx, st.SessionID)
		c.mu.Lock()
		c.busy = false
		if err := c.checkAdvance(); err != nil {
			c.mu.Unlock()
			return err
		}
	}

	st, ok := c.store.NextRound()
	if !ok {
		c.mu.Unlock()
		return ErrGameOver
	}
	var ev events
	ev.add(func() { c.emitState(st) })
	c.arm(&ev, c.roundSeconds)
	c.flush(ev)
	c.mu.Unlock()
	return nil
}

// checkAdvance must be called with c.mu held
func (c *Controller) checkAdvance() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.busy:
		return ErrBusy
	case c.phase != PhaseResolved:
		return ErrInvalidPhase
	}
	return nil
}

func (c *Controller) redrawWord(ctx context.Context, sessionID string) {
	if err := c.resetter.ResetRound(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("could not draw a new word")
		return
	}
	if _, err := c.store.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("refresh after new word failed")
	}
}

// Reset abandons the in-flight reply and countdown and replays the current
// round with a full countdown.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase == PhaseIdle {
		c.mu.Unlock()
		return ErrInvalidPhase
	}
	c.abort()
	var ev events
	if id, err := c.log.Append(session.Message{Kind: session.KindSystem, Text: "Round restarted."}); err == nil {
		if m, ok := c.log.Get(id); ok {
			ev.add(func() { c.emitMessage(m) })
		}
	}
	c.arm(&ev, c.roundSeconds)
	sessionID := c.store.State().SessionID
	c.flush(ev)
	c.mu.Unlock()

	if c.resetter != nil && sessionID != "" {
		if err := c.resetter.ResetRound(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("backend round reset failed")
		}
	}
	return nil
}

// NewGame drops the current session and transcript. Start opens the next one.
func (c *Controller) NewGame(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.abort()
	var ev events
	c.setPhase(&ev, PhaseIdle)
	c.log.Clear()
	c.lastReason = ""
	c.flush(ev)
	c.mu.Unlock()

	err := c.store.Clear(ctx)
	st := c.store.State()
	c.mu.Lock()
	c.dispatch.push(
		func() { c.emitTranscript(nil) },
		func() { c.emitState(st) },
	)
	c.mu.Unlock()
	return err
}

// Close stops the countdown and any reply in flight and waits for them
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.abort()
	c.mu.Unlock()

	c.wg.Wait()
	c.dispatch.close()
}

// abort cancels the stream and countdown of the current round. c.mu held.
func (c *Controller) abort() {
	c.stopCountdown()
	if c.cancelStream != nil {
		c.cancelStream()
		c.cancelStream = nil
	}
	c.gen++
}

// Phase returns the current phase
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Remaining returns the seconds left on the countdown
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Controller) State() session.State {
	return c.store.State()
}

func (c *Controller) Transcript() []session.Message {
	return c.log.Messages()
}

// arm enters Armed with secs left on the countdown. c.mu held.
func (c *Controller) arm(ev *events, secs int) {
	if secs < 1 {
		secs = 1
	}
	c.remaining = secs
	c.setPhase(ev, PhaseArmed)
	remaining := secs
	ev.add(func() { c.emitTick(remaining) })
	c.startCountdown()
}

// resolve enters Resolved. c.mu held.
func (c *Controller) resolve(ev *events, out Outcome, note string) {
	c.stopCountdown()
	st := c.store.State()
	out.Round = st.Round
	out.LastRound = st.Round >= st.TotalRounds
	c.lastReason = out.Reason
	c.setPhase(ev, PhaseResolved)

	if note != "" {
		if id, err := c.log.Append(session.Message{Kind: session.KindSystem, Text: note}); err == nil {
			if m, ok := c.log.Get(id); ok {
				ev.add(func() { c.emitMessage(m) })
			}
		}
	}
	log.Info().Int("round", out.Round).Bool("ai_guessed", out.AIGuessed).Str("reason", out.Reason).Msg("round resolved")
	ev.add(func() {
		if c.OnResolved != nil {
			c.OnResolved(out)
		}
	})
}

func (c *Controller) setPhase(ev *events, p Phase) {
	if c.phase == p {
		return
	}
	c.phase = p
	ev.add(func() {
		if c.OnPhase != nil {
			c.OnPhase(p)
		}
	})
}

// startCountdown runs the ticker goroutine for the current Armed phase. c.mu held.
func (c *Controller) startCountdown() {
	c.stopCountdown()
	stop := make(chan struct{})
	c.stopTicker = stop
	ticker := c.newTicker(time.Second)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				if !c.tick(stop) {
					return
				}
			}
		}
	}()
}

func (c *Controller) stopCountdown() {
	if c.stopTicker != nil {
		close(c.stopTicker)
		c.stopTicker = nil
	}
}

// tick counts down one second and resolves the round at zero. It reports
// whether the countdown should keep running.
func (c *Controller) tick(stop chan struct{}) bool {
	c.mu.Lock()
	if c.stopTicker != stop || c.phase != PhaseArmed {
		c.mu.Unlock()
		return false
	}
	c.remaining--
	remaining := c.remaining

	var ev events
	ev.add(func() { c.emitTick(remaining) })
	if remaining <= 0 {
		st := c.store.AwardPoint()
		ev.add(func() { c.emitState(st) })
		note := "Time's up! You scored a point!" + revealWord(st.CurrentWord)
		c.resolve(&ev, Outcome{Reason: ReasonTimeout, Word: st.CurrentWord}, note)
	}
	c.flush(ev)
	c.mu.Unlock()
	return remaining > 0
}

func revealWord(word string) string {
	if word == "" {
		return ""
	}
	return ` The word was "` + word + `".`
}

func (c *Controller) emitTick(remaining int) {
	if c.OnTick != nil {
		c.OnTick(remaining)
	}
}

func (c *Controller) emitChunk(id, text string) {
	if c.OnChunk != nil {
		c.OnChunk(id, text)
	}
}

func (c *Controller) emitMessage(m session.Message) {
	if c.OnMessage != nil {
		c.OnMessage(m)
	}
}

func (c *Controller) emitTranscript(msgs []session.Message) {
	if c.OnTranscript != nil {
		c.OnTranscript(msgs)
	}
}

func (c *Controller) emitState(st session.State) {
	if c.OnState != nil {
		c.OnState(st)
	}
}
