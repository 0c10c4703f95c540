package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type commandKind int

const (
	cmdClue commandKind = iota
	cmdEdit
	cmdDelete
	cmdReset
	cmdNext
	cmdNew
	cmdQuit
)

// command is one line typed into the input box. index is the 1-based
// transcript line it refers to.
type command struct {
	kind  commandKind
	index int
	text  string
}

var errEmptyInput = errors.New("nothing to send")

// parseCommand turns an input line into a command. Lines not starting with
// a slash are clues.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmptyInput
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdClue, text: line}, nil
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/edit":
		numStr, text, _ := strings.Cut(rest, " ")
		n, err := lineNumber(numStr)
		if err != nil {
			return command{}, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return command{}, fmt.Errorf("usage: /edit N new clue")
		}
		return command{kind: cmdEdit, index: n, text: text}, nil
	case "/delete":
		n, err := lineNumber(rest)
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdDelete, index: n}, nil
	case "/reset":
		return command{kind: cmdReset}, nil
	case "/next":
		return command{kind: cmdNext}, nil
	case "/new":
		return command{kind: cmdNew}, nil
	case "/quit", "/q":
		return command{kind: cmdQuit}, nil
	}
	return command{}, fmt.Errorf("unknown command %s", name)
}

func lineNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("expected a line number, got %q", s)
	}
	return n, nil
}
