package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"pidash/internal/command"
	"pidash/internal/config"
	"pidash/internal/constants"
	"pidash/internal/finance"
	"pidash/internal/mesh"
	"pidash/internal/pihole"
	"pidash/internal/profile"
	"pidash/internal/security"
	"pidash/internal/spotify"
	"pidash/internal/sysstats"
	"pidash/internal/types"
	"pidash/internal/utils"
)

type Server struct {
	Cfg     *config.Config
	Store   profile.Store
	Spotify *spotify.Manager
	Quotes  *finance.Service
	Pihole  *pihole.Client
	Mesh    *mesh.Reader
	Stats   *sysstats.Collector
	Hub     *Hub

	started time.Time
}

func NewServer(cfg *config.Config) (*Server, error) {
	store, err := profile.NewStore(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Cfg:     cfg,
		Store:   store,
		Spotify: spotify.NewManager(cfg, store),
		Quotes:  finance.NewService(cfg),
		Pihole:  pihole.NewClient(cfg),
		Mesh:    mesh.NewReader(cfg.MeshLogPath),
		Stats:   sysstats.NewCollector(command.NewRunner()),
		started: time.Now(),
	}
	s.Hub = NewHub(s)

	return s, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/ws", s.HandleWebSocket)

	mux.HandleFunc("/api/stats", s.HandleStats)
	mux.HandleFunc("/api/financial", s.HandleFinancial)
	mux.HandleFunc("/api/pihole", s.HandlePihole)
	mux.HandleFunc("/api/meshtastic", s.HandleMeshtastic)
	mux.HandleFunc("/api/config", s.HandleConfig)

	mux.HandleFunc("/api/spotify/", s.HandleSpotify)

	mux.HandleFunc("/api/profiles", s.HandleProfiles)
	mux.HandleFunc("/api/profiles/", s.HandleProfileByID)

	var handler http.Handler = mux
	handler = RecoveryMiddleware(handler)
	handler = CorsMiddleware(handler)
	handler = security.SecurityHeaders(handler)
	handler = security.MaxBodySize(constants.MaxBodySize)(handler)

	return handler
}

func (s *Server) Run() {
	go s.Hub.Run()
	go s.Hub.Push()

	h2Handler := h2c.NewHandler(s.Routes(), &http2.Server{})

	server := &http.Server{
		Addr:              ":" + s.Cfg.Port,
		Handler:           h2Handler,
		IdleTimeout:       constants.IdleTimeout,
		ReadHeaderTimeout: constants.ReadHeaderTimeout,
		MaxHeaderBytes:    constants.MaxHeaderBytes,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("🚀 pidash starting on :%s", s.Cfg.Port)

	<-sigChan
	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	s.Cleanup()
	log.Println("✅ Server stopped")
}

func (s *Server) Cleanup() {
	s.Hub.Close()
	if err := s.Store.Close(); err != nil {
		log.Printf("⚠️ Store close: %v", err)
	}
}

// writeError maps the typed error chain to an HTTP status. Degrade payloads
// (synthetic quotes, appliance fallback links) never reach here; only hard
// client/upstream failures do.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrUnknownCommand),
		errors.Is(err, types.ErrSecurityViolation):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrAuthExpired):
		status = http.StatusUnauthorized
	case errors.Is(err, types.ErrConfigurationMissing):
		status = http.StatusServiceUnavailable
	case errors.Is(err, types.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, types.ErrExternalService):
		status = http.StatusBadGateway
	}

	utils.WriteJSON(w, status, types.NewErrorPayload(err.Error(), ""))
}
