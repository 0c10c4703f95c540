// Command wsclient is a line-based client for the websocket bridge, handy
// for poking a running server by hand.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/messages"
)

type serverMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
	Payload  any    `json:"payload"`
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "bridge websocket URL")
	client := flag.String("client", "", "client id, reuse it to resume a game")
	token := flag.String("token", "", "backend auth token, empty plays as guest")
	category := flag.String("category", "", "game category")
	subcategory := flag.String("subcategory", "", "game subcategory")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	u, err := url.Parse(*serverURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid server URL")
	}
	q := u.Query()
	for k, v := range map[string]string{"client": *client, "token": *token, "category": *category, "subcategory": *subcategory} {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	log.Info().Str("server", *serverURL).Msg("connecting")
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Msg("connection closed")
				return
			}
			var msg serverMessage
			if err := sonic.ConfigStd.Unmarshal(data, &msg); err != nil {
				log.Warn().Err(err).Msg("unparseable server message")
				continue
			}
			printMessage(msg)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Fprintln(os.Stderr, "type a clue, or /start /next /reset /new /ping /edit ID text /delete ID")
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			<-done
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			msg, err := clientMessage(line)
			if err != nil {
				log.Warn().Err(err).Send()
				continue
			}
			if msg == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Error().Err(err).Msg("send failed")
				return
			}
		}
	}
}

// clientMessage encodes one input line for the bridge
func clientMessage(line string) ([]byte, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	var typ string
	var payload any
	name, rest, _ := strings.Cut(line, " ")
	switch name {
	case "/start", "/next", "/reset", "/new", "/ping":
		actions := map[string]string{
			"/start": messages.ActionStart,
			"/next":  messages.ActionAdvance,
			"/reset": messages.ActionReset,
			"/new":   messages.ActionNewGame,
			"/ping":  messages.ActionPing,
		}
		typ, payload = messages.ClientTypeControl, messages.ControlPayload{Action: actions[name]}
	case "/edit":
		id, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
		typ, payload = messages.ClientTypeEdit, messages.EditPayload{ID: id, Text: text}
	case "/delete":
		typ, payload = messages.ClientTypeDelete, messages.DeletePayload{ID: strings.TrimSpace(rest)}
	default:
		if strings.HasPrefix(line, "/") {
			return nil, fmt.Errorf("unknown command %s", name)
		}
		typ, payload = messages.ClientTypeClue, messages.CluePayload{Text: line}
	}

	raw, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return sonic.ConfigStd.Marshal(messages.ClientMessage{Type: typ, Payload: raw})
}

func printMessage(msg serverMessage) {
	p, _ := msg.Payload.(map[string]any)
	switch msg.Type {
	case messages.TypeStatus:
		fmt.Printf("[%v] %v\n", p["phase"], p["message"])
	case messages.TypeTick:
		if r, ok := p["remaining"].(float64); ok && (int(r)%10 == 0 || r <= 5) {
			fmt.Printf("  %ds left\n", int(r))
		}
	case messages.TypeChunk:
		fmt.Print(p["text"])
	case messages.TypeMessage:
		fmt.Printf("\n%v (%v): %v\n", p["role"], p["id"], p["text"])
	case messages.TypeResolved:
		fmt.Printf("round %v over: reason=%v aiGuessed=%v word=%v\n", p["round"], p["reason"], p["aiGuessed"], p["word"])
	case messages.TypeState:
		fmt.Printf("round %v/%v  you %v : %v ai\n", p["round"], p["totalRounds"], p["score"], p["aiScore"])
	case messages.TypeTranscript:
		entries, _ := msg.Payload.([]any)
		fmt.Printf("transcript replaced, %d messages\n", len(entries))
	case messages.TypeError:
		fmt.Printf("error %v: %v\n", p["code"], p["message"])
	}
}
