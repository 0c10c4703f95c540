package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/room4-2/aiticulate/game"
	"github.com/room4-2/aiticulate/session"
)

// Controller events, delivered through program.Send
type (
	phaseMsg      game.Phase
	tickMsg       int
	chunkMsg      struct{ id, text string }
	entryMsg      session.Message
	transcriptMsg []session.Message
	resolvedMsg   game.Outcome
	stateMsg      session.State
	actionMsg     struct {
		action string
		err    error
	}
)

// bind forwards controller events into the program
func bind(ctrl *game.Controller, p *tea.Program) {
	ctrl.OnPhase = func(ph game.Phase) { p.Send(phaseMsg(ph)) }
	ctrl.OnTick = func(remaining int) { p.Send(tickMsg(remaining)) }
	ctrl.OnChunk = func(id, text string) { p.Send(chunkMsg{id: id, text: text}) }
	ctrl.OnMessage = func(m session.Message) { p.Send(entryMsg(m)) }
	ctrl.OnTranscript = func(msgs []session.Message) { p.Send(transcriptMsg(msgs)) }
	ctrl.OnResolved = func(out game.Outcome) { p.Send(resolvedMsg(out)) }
	ctrl.OnState = func(st session.State) { p.Send(stateMsg(st)) }
}

type model struct {
	ctx    context.Context
	ctrl   *game.Controller
	player string
	topic  string

	input     textinput.Model
	phase     game.Phase
	remaining int
	state     session.State
	entries   []session.Message
	outcome   *game.Outcome
	notice    string
	errText   string
	width     int
	height    int
}

func newModel(ctx context.Context, ctrl *game.Controller, player, topic string) model {
	in := textinput.New()
	in.Placeholder = "describe the word without saying it..."
	in.CharLimit = 500
	in.Focus()

	return model{
		ctx:    ctx,
		ctrl:   ctrl,
		player: player,
		topic:  topic,
		input:  in,
		phase:  game.PhaseIdle,
		state:  ctrl.State(),
		notice: "Connecting...",
		width:  100,
		height: 30,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.run("start", m.ctrl.Start))
}

// run calls a controller action off the update loop. Controller callbacks
// send messages back into the program, so the loop must stay free.
func (m model) run(action string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionMsg{action: action, err: fn(ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(10, msg.Width-6)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			line := m.input.Value()
			m.input.Reset()
			return m.execute(line)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case phaseMsg:
		m.phase = game.Phase(msg)
		switch m.phase {
		case game.PhaseArmed:
			m.notice = "Your turn: give a clue."
			m.outcome = nil
		case game.PhaseAwaitingResponse:
			m.notice = "The AI is thinking..."
		case game.PhaseIdle:
			m.notice = ""
		}
		return m, nil

	case tickMsg:
		m.remaining = int(msg)
		return m, nil

	case entryMsg:
		m.upsert(session.Message(msg))
		return m, nil

	case chunkMsg:
		for i := range m.entries {
			if m.entries[i].ID == msg.id {
				m.entries[i].Text += msg.text
				break
			}
		}
		return m, nil

	case transcriptMsg:
		m.entries = append([]session.Message(nil), msg...)
		return m, nil

	case stateMsg:
		m.state = session.State(msg)
		return m, nil

	case resolvedMsg:
		out := game.Outcome(msg)
		m.outcome = &out
		m.notice = resolvedNotice(out)
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.errText = fmt.Sprintf("%s: %v", msg.action, msg.err)
		} else {
			m.errText = ""
		}
		return m, nil
	}
	return m, nil
}

func (m *model) upsert(e session.Message) {
	for i := range m.entries {
		if m.entries[i].ID == e.ID {
			m.entries[i] = e
			return
		}
	}
	m.entries = append(m.entries, e)
}

func (m model) execute(line string) (tea.Model, tea.Cmd) {
	c, err := parseCommand(line)
	if errors.Is(err, errEmptyInput) {
		return m, nil
	}
	if err != nil {
		m.errText = err.Error()
		return m, nil
	}
	m.errText = ""

	switch c.kind {
	case cmdClue:
		return m, m.run("clue", func(ctx context.Context) error {
			_, err := m.ctrl.SubmitClue(ctx, c.text)
			return err
		})
	case cmdEdit, cmdDelete:
		if c.index > len(m.entries) {
			m.errText = fmt.Sprintf("no line %d", c.index)
			return m, nil
		}
		target := m.entries[c.index-1]
		if c.kind == cmdDelete {
			return m, m.run("delete", func(context.Context) error {
				return m.ctrl.DeleteMessage(target.ID)
			})
		}
		if target.Kind != session.KindClue {
			m.errText = fmt.Sprintf("line %d is not one of your clues", c.index)
			return m, nil
		}
		return m, m.run("edit", func(ctx context.Context) error {
			return m.ctrl.EditClue(ctx, target.ID, c.text)
		})
	case cmdReset:
		return m, m.run("reset", m.ctrl.Reset)
	case cmdNext:
		return m, m.run("next", func(ctx context.Context) error {
			err := m.ctrl.Advance(ctx)
			if errors.Is(err, game.ErrGameOver) {
				return fmt.Errorf("%w, type /new to play again", err)
			}
			return err
		})
	case cmdNew:
		return m, m.run("new game", func(ctx context.Context) error {
			if err := m.ctrl.NewGame(ctx); err != nil {
				return err
			}
			return m.ctrl.Start(ctx)
		})
	case cmdQuit:
		return m, tea.Quit
	}
	return m, nil
}

func resolvedNotice(out game.Outcome) string {
	var s string
	switch out.Reason {
	case game.ReasonGuessed:
		s = fmt.Sprintf("The AI guessed %q!", out.Word)
	case game.ReasonTimeout:
		s = "Round over, you kept the word secret."
	default:
		s = "Round ended by an error."
	}
	if out.LastRound {
		return s + " Game over. Type /new to play again."
	}
	return s + " Type /next for the next round."
}

func (m model) View() string {
	var b strings.Builder

	header := titleStyle.Render("AI-ticulate") + dimStyle.Render(m.topic)
	if m.player != "" {
		header += dimStyle.Render("  playing as " + m.player)
	}
	b.WriteString(header + "\n")

	timer := timerStyle
	if m.remaining <= 10 {
		timer = timerLowStyle
	}
	bar := fmt.Sprintf("Round %d/%d   You %d : %d AI   ",
		m.state.Round, m.state.TotalRounds, m.state.Score, m.state.AIScore)
	if m.phase == game.PhaseArmed || m.phase == game.PhaseAwaitingResponse {
		bar += timer.Render(fmt.Sprintf("%ds", m.remaining))
	}
	if m.state.Stale {
		bar += dimStyle.Render("  (score may be out of date)")
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(bar) + "\n\n")

	lines := m.transcriptLines()
	// keep the newest lines on screen
	room := m.height - 9
	if room > 0 && len(lines) > room {
		lines = lines[len(lines)-room:]
	}
	for _, l := range lines {
		b.WriteString(l + "\n")
	}

	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString(m.notice + "\n")
	}
	if m.errText != "" {
		b.WriteString(errorStyle.Render(m.errText) + "\n")
	}
	b.WriteString(inputStyle.Render(m.input.View()) + "\n")
	b.WriteString(dimStyle.Render("Enter: send  /edit N text  /delete N  /reset  /next  /new  Esc: quit"))
	return b.String()
}

func (m model) transcriptLines() []string {
	wrap := lipgloss.NewStyle().Width(max(20, m.width-12))
	lines := make([]string, 0, len(m.entries))
	for i, e := range m.entries {
		num := dimStyle.Render(fmt.Sprintf("%3d ", i+1))
		var label string
		switch e.Kind {
		case session.KindClue:
			label = clueRoleStyle.Render(" you ")
		case session.KindGuess:
			label = guessRoleStyle.Render(" ai  ")
		default:
			lines = append(lines, num+systemStyle.Render(e.Text))
			continue
		}
		text := e.Text
		if e.Editing {
			text += dimStyle.Render(" (editing)")
		}
		if e.Correct != nil {
			if *e.Correct {
				text += " " + correctStyle.Render("✓")
			} else {
				text += " " + wrongStyle.Render("✗")
			}
		}
		lines = append(lines, num+label+" "+wrap.Render(text))
	}
	return lines
}
