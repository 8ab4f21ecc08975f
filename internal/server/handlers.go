package server

import (
	"net/http"
	"time"

	"pidash/internal/constants"
	"pidash/internal/utils"
)

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	utils.WriteJSON(w, http.StatusOK, s.Stats.Collect(r.Context()))
}

func (s *Server) HandleFinancial(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	utils.WriteJSON(w, http.StatusOK, s.Quotes.Get(r.Context()))
}

// HandlePihole always answers 200: a broken appliance degrades to an error
// payload with a fallback link, never to a failed dashboard tile.
func (s *Server) HandlePihole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	utils.WriteJSON(w, http.StatusOK, s.Pihole.Fetch(r.Context()))
}

func (s *Server) HandleMeshtastic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	utils.WriteJSON(w, http.StatusOK, s.Mesh.Snapshot())
}

func (s *Server) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	utils.WriteJSON(w, http.StatusOK, s.Cfg.Masked())
}
