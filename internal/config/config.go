package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"pidash/internal/constants"
	"pidash/internal/utils"
)

// Config is the env-backed service configuration. It is read once at startup;
// sensitive fields are never returned to callers in raw form (see Masked).
type Config struct {
	Port     string
	StateDir string
	StateKey string // optional, enables at-rest encryption of profile files

	QuoteAPIKey   string
	QuoteAPIURL   string
	QuoteInterval time.Duration

	PiholeURL      string
	PiholePassword string

	SpotifyClientID    string
	SpotifyRedirectURI string

	MeshLogPath string

	RedisHost     string
	RedisPort     string
	RedisUser     string
	RedisPassword string
}

func Load() (*Config, error) {
	stateDir := utils.GetEnv("PIDASH_STATE_DIR", "")
	if stateDir == "" {
		var err error
		stateDir, err = defaultStateDir()
		if err != nil {
			return nil, err
		}
	}

	port := utils.GetEnv("PORT", constants.DefaultPort)

	interval := constants.QuoteInterval
	if v := utils.GetEnv("PIDASH_QUOTE_INTERVAL", ""); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}

	cfg := &Config{
		Port:     port,
		StateDir: stateDir,
		StateKey: utils.GetEnv("PIDASH_STATE_KEY", ""),

		QuoteAPIKey:   utils.GetEnv("FINNHUB_API_KEY", ""),
		QuoteAPIURL:   utils.GetEnv("FINNHUB_API_URL", "https://finnhub.io/api/v1"),
		QuoteInterval: interval,

		PiholeURL:      utils.GetEnv("PIHOLE_URL", ""),
		PiholePassword: utils.GetEnv("PIHOLE_PASSWORD", ""),

		SpotifyClientID:    utils.GetEnv("SPOTIFY_CLIENT_ID", ""),
		SpotifyRedirectURI: utils.GetEnv("SPOTIFY_REDIRECT_URI", "http://localhost:"+port+"/api/spotify/callback"),

		MeshLogPath: utils.GetEnv("MESHTASTIC_LOG", ""),

		RedisHost:     utils.GetEnv("REDIS_HOST", ""),
		RedisPort:     utils.GetEnv("REDIS_PORT", "6379"),
		RedisUser:     utils.GetEnv("REDIS_USERNAME", ""),
		RedisPassword: utils.GetEnv("REDIS_PASSWORD", ""),
	}

	if err := os.MkdirAll(cfg.StateDir, constants.StateDirMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", constants.AppName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", constants.AppName), nil
	default:
		dataDir := filepath.Join(home, ".local", "share")
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			dataDir = xdgData
		}
		return filepath.Join(dataDir, constants.AppName), nil
	}
}

// SettingEntry is one masked config row for the settings panel.
type SettingEntry struct {
	Configured bool   `json:"configured"`
	Value      string `json:"value,omitempty"`
}

// Masked exposes which upstreams are configured without leaking secrets.
// Sensitive values come back as a fixed placeholder, never the real thing.
func (c *Config) Masked() map[string]SettingEntry {
	mask := func(secret string) SettingEntry {
		e := SettingEntry{Configured: secret != ""}
		if e.Configured {
			e.Value = constants.MaskedValue
		}
		return e
	}

	return map[string]SettingEntry{
		"finnhub_api_key":      mask(c.QuoteAPIKey),
		"pihole_url":           {Configured: c.PiholeURL != "", Value: c.PiholeURL},
		"pihole_password":      mask(c.PiholePassword),
		"spotify_client_id":    mask(c.SpotifyClientID),
		"spotify_redirect_uri": {Configured: c.SpotifyRedirectURI != "", Value: c.SpotifyRedirectURI},
		"meshtastic_log":       {Configured: c.MeshLogPath != "", Value: c.MeshLogPath},
		"redis":                {Configured: c.RedisHost != ""},
		"state_key":            mask(c.StateKey),
	}
}
