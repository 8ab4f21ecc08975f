package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"pidash/internal/constants"
	"pidash/internal/profile"
	"pidash/internal/security"
	"pidash/internal/utils"
)

type profileRequest struct {
	Name        string            `json:"name"`
	Preferences map[string]string `json:"preferences"`
}

func (s *Server) HandleProfiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listProfiles(w)
	case http.MethodPost:
		s.createProfile(w, r)
	default:
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
	}
}

func (s *Server) listProfiles(w http.ResponseWriter) {
	profiles, err := s.Store.ListProfiles()
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, profiles)
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, constants.MsgInvalidJSON, http.StatusBadRequest)
		return
	}

	p := &profile.Profile{
		ID:          uuid.New().String(),
		Name:        security.SanitizeInput(strings.TrimSpace(req.Name)),
		CreatedAt:   time.Now(),
		Preferences: req.Preferences,
	}
	if err := p.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.Store.SaveProfile(p); err != nil {
		s.writeError(w, err)
		return
	}

	// The first profile becomes active so a fresh install works without an
	// extra switch call.
	if active, _ := s.Store.GetActive(); active == "" {
		if err := s.Spotify.SwitchProfile(p.ID); err != nil {
			log.Printf("⚠️ Could not activate new profile %s: %v", p.ID, err)
		}
	}

	log.Printf("👤 Profile created: %s (%s)", p.Name, p.ID)
	utils.WriteJSON(w, http.StatusCreated, p)
}

func (s *Server) HandleProfileByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/profiles/")
	if rest == "active" {
		s.handleActiveProfile(w, r)
		return
	}

	if !security.ValidateUUID(rest) {
		http.Error(w, constants.MsgInvalidProfileID, http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getProfile(w, rest)
	case http.MethodPut:
		s.updateProfile(w, r, rest)
	case http.MethodDelete:
		s.deleteProfile(w, rest)
	default:
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
	}
}

func (s *Server) getProfile(w http.ResponseWriter, id string) {
	p, err := s.Store.GetProfile(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request, id string) {
	existing, err := s.Store.GetProfile(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, constants.MsgInvalidJSON, http.StatusBadRequest)
		return
	}

	if req.Name != "" {
		existing.Name = security.SanitizeInput(strings.TrimSpace(req.Name))
	}
	if req.Preferences != nil {
		existing.Preferences = req.Preferences
	}
	if err := existing.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.Store.SaveProfile(existing); err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteProfile(w http.ResponseWriter, id string) {
	// Drop the in-memory Spotify session first if it belongs to this profile;
	// the store delete below removes the persisted token either way.
	if st := s.Spotify.Status(); st.ProfileID == id {
		s.Spotify.Logout()
	}

	if err := s.Store.DeleteProfile(id); err != nil {
		s.writeError(w, err)
		return
	}

	log.Printf("🗑 Profile deleted: %s", id)
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleActiveProfile(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		active, err := s.Store.GetActive()
		if err != nil {
			s.writeError(w, err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]string{"active": active})

	case http.MethodPost:
		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, constants.MsgInvalidJSON, http.StatusBadRequest)
			return
		}
		if !security.ValidateUUID(req.ID) {
			http.Error(w, constants.MsgInvalidProfileID, http.StatusBadRequest)
			return
		}

		if err := s.Spotify.SwitchProfile(req.ID); err != nil {
			s.writeError(w, err)
			return
		}

		log.Printf("👤 Active profile: %s", req.ID)
		utils.WriteJSON(w, http.StatusOK, map[string]string{"active": req.ID})

	default:
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
	}
}
