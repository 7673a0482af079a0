package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"skillbot/internal/agent"
	"skillbot/internal/domain"
	"skillbot/internal/metrics"
	"skillbot/internal/schema"
	"skillbot/internal/skill"
)

const maxTurnBody = 1 << 20

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr           string
	WSPath         string
	AllowedOrigins []string
	APIKey         string
	WebhookSecret  string
	// MetricsPath mounts the metrics handler. Empty disables it.
	MetricsPath string
	TurnTimeout time.Duration

	Hub     *agent.Hub
	Store   *agent.ConversationStore
	Manager *skill.Manager
	Catalog *schema.Catalog
	// Ready backs /readyz. Nil always reports ready.
	Ready  func(context.Context) error
	Logger *slog.Logger
}

// Server serves the websocket endpoint, the JSON API, health checks and
// metrics on one listener.
type Server struct {
	cfg    ServerConfig
	ws     *WebSocket
	router chi.Router
	logger *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		ws: NewWebSocket(WebSocketConfig{
			Hub:            cfg.Hub,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         cfg.Logger,
		}),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Name() string { return "http" }

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get(s.cfg.WSPath, s.ws.ServeHTTP)
	if s.cfg.MetricsPath != "" {
		r.Get(s.cfg.MetricsPath, metrics.Collector.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Get("/skills", s.handleSkills)
		r.Get("/domains", s.handleDomains)
		r.Get("/schemas", s.handleSchemas)
		r.Get("/conversations/{id}", s.handleConversation)
		r.Post("/conversations/{id}/turns", s.handleTurn)
	})
	return r
}

// Start serves until ctx is done, then shuts down within five seconds.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("http server starting", "addr", s.cfg.Addr, "ws_path", s.cfg.WSPath)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		s.ws.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       agent.Version(),
		"conversations": s.cfg.Hub.Len(),
		"connections":   s.ws.Clients(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"skills": s.cfg.Manager.Skills()})
}

func (s *Server) handleDomains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"domains": s.cfg.Manager.Domains()})
}

func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schemas": s.cfg.Catalog.Schemas()})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.cfg.Store.Load(r.Context(), id)
	if err != nil {
		s.logger.Error("load conversation", "conversation", id, "err", err)
		writeError(w, http.StatusInternalServerError, domain.Hint(domain.Classify(err)))
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          id,
		"title":       agent.Title(state),
		"userId":      state.UserID,
		"sessionId":   state.SessionID,
		"messages":    state.Messages,
		"lastUpdated": state.LastUpdated,
	})
}

// handleTurn runs one turn synchronously and answers with the events it
// produced. Other transports attached to the conversation see them too.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTurnBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	defer r.Body.Close()

	if s.cfg.WebhookSecret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			writeError(w, http.StatusUnauthorized, "missing signature")
			return
		}
		if !verifyHMAC(body, s.cfg.WebhookSecret, sig) {
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
	}

	turn, err := decodeTurn(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = "api"
	}

	ctx, cancel := turnContext(r.Context(), s.cfg.TurnTimeout)
	defer cancel()

	events := &collector{}
	conv, detach, err := s.cfg.Hub.Connect(ctx, id, userID, events)
	if err != nil {
		s.logger.Error("conversation connect failed", "conversation", id, "err", err)
		writeError(w, http.StatusInternalServerError, domain.Apology(domain.Classify(err)))
		return
	}
	events.reset()
	err = conv.HandleTurn(ctx, turn)
	detach()
	if err != nil {
		s.logger.Error("turn failed", "conversation", id, "err", err)
		writeError(w, http.StatusInternalServerError, domain.Apology(domain.Classify(err)))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": id,
		"reply":          events.reply(),
		"events":         events.list(),
	})
}

// decodeTurn parses one inbound turn. A missing type means chat.
func decodeTurn(data []byte) (domain.InboundTurn, error) {
	var turn domain.InboundTurn
	if err := json.Unmarshal(data, &turn); err != nil {
		return turn, errors.New("invalid message format")
	}
	switch turn.Type {
	case "":
		turn.Type = domain.TurnChat
		fallthrough
	case domain.TurnChat:
		if strings.TrimSpace(turn.Text()) == "" {
			return turn, errors.New("message content is required")
		}
	case domain.TurnSkill:
		if turn.SkillID == "" {
			return turn, errors.New("skillId is required")
		}
	default:
		return turn, fmt.Errorf("unsupported message type %q", turn.Type)
	}
	return turn, nil
}

// turnContext keeps a turn running after its request context ends, bounded
// by timeout when positive.
func turnContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// collector records the events of a synchronous turn.
type collector struct {
	mu     sync.Mutex
	events []domain.Outbound
}

func (c *collector) Emit(out domain.Outbound) {
	c.mu.Lock()
	c.events = append(c.events, out)
	c.mu.Unlock()
}

func (c *collector) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

func (c *collector) list() []domain.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Outbound, len(c.events))
	copy(out, c.events)
	return out
}

// reply returns the last assistant message of the turn.
func (c *collector) reply() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		ev := c.events[i]
		if ev.Type == domain.EventMessageAdded && ev.Message != nil && ev.Message.Role == domain.RoleAssistant {
			return ev.Message.Content
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"code": status, "message": message})
}
