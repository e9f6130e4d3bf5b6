package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streamcast/relay/internals/config"
	"github.com/streamcast/relay/internals/metrics"
	"github.com/streamcast/relay/internals/registry"
	"github.com/streamcast/relay/internals/router"
	"github.com/streamcast/relay/internals/signaling"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server wires the hub, registry and router together behind an HTTP listener.
type Server struct {
	config *config.Config
	logger *zap.Logger

	hub      *signaling.Hub
	registry *registry.Registry
	router   *router.Router

	httpServer *http.Server

	rateLimiters   map[string]*rate.Limiter
	rateLimitersMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg *config.Config, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	hub := signaling.NewHub(signaling.HubConfig{
		ReadLimit:       cfg.Signal.WSReadLimit,
		WriteTimeout:    cfg.Signal.WSWriteTimeout,
		PongTimeout:     cfg.Signal.WSPongTimeout,
		PingInterval:    cfg.Signal.WSPingInterval,
		HubPingInterval: cfg.Signal.HubPingInterval,
	}, logger)

	reg := registry.New(logger)

	return &Server{
		config:       cfg,
		logger:       logger,
		hub:          hub,
		registry:     reg,
		router:       router.New(reg, hub, logger, cfg.Session.MaxAge, cfg.Session.MaxSessionIDLen),
		rateLimiters: make(map[string]*rate.Limiter),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Server) Start() error {
	s.logger.Info("Starting relay server",
		zap.String("host", s.config.Server.Host),
		zap.Int("port", s.config.Server.Port),
	)

	go s.hub.Run()
	go s.sweepLoop()

	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/sessions", s.corsMiddleware(s.handleSessionsAPI))
	mux.HandleFunc("/api/sessions/", s.corsMiddleware(s.handleSessionAPI))
	mux.HandleFunc("/health", s.handleHealth)

	if s.config.Metrics.Enabled {
		mux.Handle(s.config.Metrics.Path, promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      mux,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	go func() {
		<-s.ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer shutdownCancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Relay server started successfully")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop() {
	s.logger.Info("Stopping relay server")
	s.cancel()
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// sweepLoop expires over-age sessions on a fixed interval.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.config.Session.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if expired := s.router.SweepOnce(time.Now()); expired > 0 {
				s.logger.Info("Sweep removed expired sessions", zap.Int("count", expired))
			}
		}
	}
}

func (s *Server) getClientRateLimiter(participantID string) *rate.Limiter {
	s.rateLimitersMu.Lock()
	defer s.rateLimitersMu.Unlock()
	if limiter, ok := s.rateLimiters[participantID]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Limit(s.config.Signal.RateLimitPerSec), s.config.Signal.RateLimitBurst)
	s.rateLimiters[participantID] = limiter
	return limiter
}

func (s *Server) removeClientRateLimiter(participantID string) {
	s.rateLimitersMu.Lock()
	delete(s.rateLimiters, participantID)
	s.rateLimitersMu.Unlock()
}

// --- Read-only diagnostic API ---

func (s *Server) handleSessionsAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := s.registry.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleSessionAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if sessionID == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	info, ok := s.registry.Get(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now(),
		"sessions":    s.registry.Count(),
		"connections": s.hub.ClientCount(),
	})
}

// --- WebSocket ---

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(s.config.Server.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.config.Server.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "Failed to upgrade connection", http.StatusBadRequest)
		return
	}

	client := signaling.NewClient(uuid.NewString(), conn, signaling.HubConfig{
		ReadLimit:    s.config.Signal.WSReadLimit,
		WriteTimeout: s.config.Signal.WSWriteTimeout,
		PongTimeout:  s.config.Signal.WSPongTimeout,
		PingInterval: s.config.Signal.WSPingInterval,
	}, s.logger)

	client.OnMessage = func(c *signaling.Client, msg signaling.Message) {
		limiter := s.getClientRateLimiter(c.ID)
		if !limiter.Allow() {
			c.SendError(429, "Rate limit exceeded")
			return
		}
		s.router.HandleMessage(c.ID, msg)
	}

	client.OnDisconnect = func(c *signaling.Client) {
		s.router.HandleDisconnect(c.ID)
		s.hub.UnregisterClient(c)
		s.removeClientRateLimiter(c.ID)
	}

	s.hub.RegisterClient(client)
	metrics.ConnectionsTotal.Inc()

	go client.WritePump()
	go client.ReadPump()

	// Tell the participant its transport-assigned identity so peers can
	// address it in negotiation messages.
	data, err := json.Marshal(signaling.ConnectedMessage{ParticipantID: client.ID})
	if err == nil {
		client.SendMessage(signaling.Message{
			Type:      signaling.MessageTypeConnected,
			Data:      data,
			Timestamp: time.Now(),
			To:        client.ID,
		})
	}
}
