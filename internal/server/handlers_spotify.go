package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"pidash/internal/constants"
	"pidash/internal/types"
	"pidash/internal/utils"
)

const callbackPage = `<!DOCTYPE html>
<html><head><title>pidash</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4em">
<h2>%s</h2><p>You can close this window.</p>
<script>setTimeout(function(){window.close()},1500)</script>
</body></html>`

func (s *Server) HandleSpotify(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/api/spotify/")

	switch action {
	case "login":
		s.spotifyLogin(w, r)
	case "login/qr":
		s.spotifyLoginQR(w, r)
	case "callback":
		s.spotifyCallback(w, r)
	case "status":
		utils.WriteJSON(w, http.StatusOK, s.Spotify.Status())
	case "logout":
		s.spotifyLogout(w, r)
	case "current":
		s.spotifyProxy(w, r, http.MethodGet, s.Spotify.CurrentTrack)
	case "play":
		s.spotifyProxy(w, r, http.MethodPost, s.Spotify.Play)
	case "pause":
		s.spotifyProxy(w, r, http.MethodPost, s.Spotify.Pause)
	case "next":
		s.spotifyProxy(w, r, http.MethodPost, s.Spotify.Next)
	case "previous":
		s.spotifyProxy(w, r, http.MethodPost, s.Spotify.Previous)
	case "playlists":
		s.spotifyProxy(w, r, http.MethodGet, s.Spotify.Playlists)
	case "search":
		s.spotifySearch(w, r)
	case "devices":
		s.spotifyProxy(w, r, http.MethodGet, s.Spotify.Devices)
	default:
		http.NotFound(w, r)
	}
}

// loginProfileID resolves which profile a login flow targets: an explicit
// ?profile= wins, otherwise the active one.
func (s *Server) loginProfileID(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("profile"); id != "" {
		return id, nil
	}
	id, err := s.Store.GetActive()
	if err != nil || id == "" {
		return "", types.Err(types.ErrValidation, err, "no profile selected")
	}
	return id, nil
}

func (s *Server) spotifyLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	profileID, err := s.loginProfileID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	authURL, err := s.Spotify.BeginLogin(profileID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if r.URL.Query().Get("redirect") == "1" {
		http.Redirect(w, r, authURL, http.StatusFound)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"url": authURL})
}

func (s *Server) spotifyLoginQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	profileID, err := s.loginProfileID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	png, err := s.Spotify.LoginQR(profileID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (s *Server) spotifyCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := s.Spotify.HandleCallback(r.Context(), q.Get("code"), q.Get("state"), q.Get("error"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err != nil {
		log.Printf("🎵 Spotify callback failed: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		writeCallbackPage(w, "Login failed")
		return
	}
	writeCallbackPage(w, "Spotify connected")
}

func writeCallbackPage(w http.ResponseWriter, msg string) {
	page := strings.Replace(callbackPage, "%s", msg, 1)
	w.Write([]byte(page))
}

func (s *Server) spotifyLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	if err := s.Spotify.Logout(); err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) spotifyProxy(w http.ResponseWriter, r *http.Request, method string, call func(context.Context) (json.RawMessage, error)) {
	if r.Method != method {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	body, err := call(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) spotifySearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	body, err := s.Spotify.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
