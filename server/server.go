// Package server bridges browser clients to the round controller over a
// websocket, one controller per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/api"
	"github.com/room4-2/aiticulate/config"
	"github.com/room4-2/aiticulate/game"
	"github.com/room4-2/aiticulate/history"
	"github.com/room4-2/aiticulate/messages"
	"github.com/room4-2/aiticulate/session"
	"github.com/room4-2/aiticulate/storage"
)

// Backend is what a player's controller talks to: the real backend when the
// connection carries a token, the demo otherwise.
type Backend interface {
	session.Backend
	game.RoundResetter
}

// ErrLoginRequired is returned when a connection has no token and no demo
// backend is configured
var ErrLoginRequired = errors.New("login required")

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	upgrader   websocket.Upgrader
	config     *config.Config
	store      storage.Store
	archive    *history.Archive
	demo       Backend
	tickerFunc func(time.Duration) game.Ticker

	mu      sync.RWMutex
	players map[string]*player
}

type Option func(*Server)

// WithDemo lets connections without a token play against the demo backend
func WithDemo(b Backend) Option {
	return func(s *Server) { s.demo = b }
}

// WithArchive records finished games and serves them under /api/history
func WithArchive(a *history.Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithTicker replaces the countdown ticker of every player (tests)
func WithTicker(newTicker func(time.Duration) game.Ticker) Option {
	return func(s *Server) { s.tickerFunc = newTicker }
}

func New(cfg *config.Config, store storage.Store, opts ...Option) *Server {
	s := &Server{
		config:  cfg,
		store:   store,
		players: make(map[string]*player),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger)

	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWebSocket)
	r.GET("/api/history", s.handleHistory)
	r.GET("/api/history/stats", s.handleStats)
	s.engine = r

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r,
		ReadTimeout: 10 * time.Second,
	}
	return s
}

// requestLogger logs every request except the long-lived websocket upgrade
func requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	if c.FullPath() == "/ws" {
		return
	}
	log.Info().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("dur", time.Since(start)).
		Msg("http")
}

// Handler exposes the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins listening for connections
func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("bridge server starting")
	log.Info().Msgf("websocket endpoint: ws://localhost:%d/ws", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown closes every player and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down bridge server")
	s.mu.Lock()
	players := make([]*player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p)
	}
	s.mu.Unlock()

	for _, p := range players {
		p.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// ActivePlayers returns the number of open connections
func (s *Server) ActivePlayers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	if s.config.MaxSessions > 0 && s.ActivePlayers() >= s.config.MaxSessions {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many sessions"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	p, err := s.newPlayer(c.Request.Context(), conn, c.Query("client"), c.Query("token"),
		c.Query("category"), c.Query("subcategory"))
	if err != nil {
		log.Warn().Err(err).Msg("failed to create player")
		_ = conn.WriteJSON(messages.NewErrorMessage("", messages.ErrCodeSessionFailed, err.Error()))
		conn.Close()
		return
	}

	s.mu.Lock()
	old := s.players[p.id]
	s.players[p.id] = p
	s.mu.Unlock()
	if old != nil {
		// same client reconnected; the newer connection wins
		old.Close()
	}

	log.Info().Str("player", p.id).Str("name", p.name).Msg("player connected")
	p.Start()
	<-p.closeChan

	s.mu.Lock()
	if s.players[p.id] == p {
		delete(s.players, p.id)
	}
	s.mu.Unlock()
	log.Info().Str("player", p.id).Msg("player disconnected")
}

// newPlayer wires a controller for one connection. The client id scopes the
// durable keys so a reconnecting browser resumes its conversation.
func (s *Server) newPlayer(ctx context.Context, conn *websocket.Conn, clientID, token, category, subcategory string) (*player, error) {
	if clientID == "" {
		clientID = uuid.NewString()
	}

	var (
		backend Backend
		name    = "guest"
	)
	if token != "" {
		client := api.New(s.config.APIBaseURL, staticToken(token),
			api.WithTimeouts(s.config.HTTPTimeout, s.config.StreamIdleTimeout))
		user, err := client.CurrentUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("verify token: %w", err)
		}
		backend, name = client, user.Username
		if subcategory != "" {
			// the backend keeps playing its previous topic when this fails
			if err := client.SetTopic(ctx, api.TopicName(subcategory)); err != nil {
				log.Warn().Err(err).Str("subcategory", subcategory).Msg("failed to set topic")
			}
		}
	} else {
		if s.demo == nil {
			return nil, ErrLoginRequired
		}
		backend = s.demo
	}

	durable := storage.NewScoped(s.store, "player:"+clientID)
	store := session.NewStore(backend, durable, s.config.TotalRounds)

	opts := []game.Option{game.WithRoundResetter(backend)}
	if category != "" && subcategory != "" {
		opts = append(opts, game.WithTopic(category, subcategory))
	}
	if s.tickerFunc != nil {
		opts = append(opts, game.WithTicker(s.tickerFunc))
	}
	ctrl := game.NewController(store, session.NewLog(), s.config.RoundDuration, opts...)

	topic := "General - Mixed"
	if category != "" && subcategory != "" {
		topic = category + " - " + subcategory
	}
	return newPlayer(clientID, name, topic, conn, ctrl, s.archive), nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.ActivePlayers()})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history disabled"})
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	games, err := s.archive.Recent(c.Request.Context(), c.Query("player"), limit)
	if err != nil {
		log.Error().Err(err).Msg("load history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	if games == nil {
		games = []history.Game{}
	}
	c.JSON(http.StatusOK, games)
}

func (s *Server) handleStats(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history disabled"})
		return
	}
	player := c.Query("player")
	if player == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "player is required"})
		return
	}
	stats, err := s.archive.PlayerStats(c.Request.Context(), player)
	if err != nil {
		log.Error().Err(err).Msg("load stats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// staticToken is the token a browser passed when connecting
type staticToken string

func (t staticToken) Token() string { return string(t) }
