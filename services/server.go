package services

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/councild/councild/council"
	ws "github.com/councild/councild/websocket"
)

// Server holds all server dependencies
type Server struct {
	config                *Config
	store                 council.ConversationStore
	rawDB                 *gorm.DB
	gateway               council.Gateway
	pipeline              *council.Pipeline
	authService           *AuthService
	authEndpoints         *AuthEndpoints
	conversationEndpoints *ConversationEndpoints
	websocketHandler      *WebSocketHandler
	wsHub                 *ws.Hub
	upgrader              websocket.Upgrader
}

// NewServer creates a new server instance
func NewServer(config *Config, store council.ConversationStore) *Server {
	return &Server{
		config: config,
		store:  store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

// SetDatabase sets the raw database handle used for health checks
func (s *Server) SetDatabase(db *gorm.DB) {
	s.rawDB = db
}

// InitializeServices initializes all server services
func (s *Server) InitializeServices() error {
	if s.config.Groq.APIKey != "" {
		s.gateway = council.NewOpenAIGateway(
			s.config.Groq.APIKey,
			s.config.Groq.BaseURL,
			s.config.Council.MaxTokens,
			s.config.Council.Temperature,
		)
		s.pipeline = council.NewPipeline(s.gateway, s.store, council.Options{
			Models:        s.config.Council.Models,
			Synthesizer:   s.config.Council.Synthesizer,
			TitleModel:    s.config.Council.TitleModel,
			ContextWindow: s.config.Council.ContextWindow,
			CallTimeout:   s.config.Council.CallTimeout,
			SelfRanking:   s.config.Council.SelfRanking,
		})
		s.websocketHandler = NewWebSocketHandler(s.pipeline)
		slog.Info("Council pipeline initialized", "models", len(s.config.Council.Models), "synthesizer", s.config.Council.Synthesizer)
	} else {
		slog.Warn("Groq API key not configured, council runs are unavailable")
	}

	s.conversationEndpoints = NewConversationEndpoints(s.store, s.pipeline)

	if s.config.Auth.Secret != "" && s.config.Auth.PasswordHash != "" {
		s.authService = NewAuthService(s.config.Auth.Secret, s.config.Auth.PasswordHash)
		s.authEndpoints = NewAuthEndpoints(s.authService)
		slog.Info("Authentication service initialized")
	}

	s.wsHub = ws.NewHub()
	go s.wsHub.Run()

	return nil
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health endpoint
	r.Get("/health", s.healthHandler)

	// API v1 route group
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth routes
		if s.authEndpoints != nil {
			s.authEndpoints.RegisterRoutes(r)
		}

		// Conversation routes (protected when auth is configured)
		if s.authService != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.authService.Middleware)
				s.conversationEndpoints.RegisterRoutes(r)
				r.Get("/ws", s.websocketHandlerFunc)
			})
		} else {
			s.conversationEndpoints.RegisterRoutes(r)
			r.Get("/ws", s.websocketHandlerFunc)
		}
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.SetupRoutes(),
	}

	// Graceful shutdown
	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}

// checkOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func checkOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	// If no allowed origins are configured, deny all requests for security
	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	allowedOrigins := strings.Split(allowedOriginsStr, ",")
	for _, allowed := range allowedOrigins {
		if strings.TrimSpace(allowed) == origin {
			slog.Info("WebSocket connection accepted", "origin", origin)
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"

	if s.rawDB != nil {
		if sqlDB, err := s.rawDB.DB(); err == nil {
			if err := sqlDB.Ping(); err != nil {
				dbStatus = "down"
				status = "degraded"
			} else {
				dbStatus = "up"
			}
		} else {
			dbStatus = "down"
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"` + status + `","database":"` + dbStatus + `"}`))
}

func (s *Server) websocketHandlerFunc(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := s.wsHub.RegisterClient(conn)

	if s.websocketHandler != nil {
		client.MessageHandler = func(c *ws.Client, messageBytes []byte) {
			s.websocketHandler.HandleWebSocketMessage(c, messageBytes)
		}
	}

	go client.ReadPump()
	go client.WritePump()

	slog.Info("WebSocket connection established", "session_id", client.SessionID)
}
