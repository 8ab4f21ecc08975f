package constants

import "time"

const AppName = "pidash"

// Network defaults
const (
	DefaultPort       = "8090"
	ShutdownTimeout   = 5 * time.Second
	UpstreamTimeout   = 10 * time.Second
	ReadHeaderTimeout = 10 * time.Second
	IdleTimeout       = 120 * time.Second
	MaxHeaderBytes    = 1 << 20
	MaxBodySize       = 1 << 20 // profile/settings payloads are tiny
)

// Cache TTLs
const (
	QuoteTTL = 30 * time.Minute
	MeshTTL  = 30 * time.Second
)

// Quote fetching. The upstream free tier allows roughly 5 calls per minute,
// so cache misses are filled sequentially, one call per QuoteInterval.
const (
	QuoteInterval    = 13 * time.Second
	QuoteFillBudget  = 90 * time.Second // covers five spaced calls plus slack
	QuoteJitterBound = 0.015            // synthetic prices stay within ±1.5% of base
)

// Command sandbox
const (
	CommandTimeout   = 5 * time.Second
	MaxCommandOutput = 256 * 1024
)

// OAuth
const (
	TokenRefreshWindow = 60 * time.Second
	ChallengeLifetime  = 10 * time.Minute
	SpotifyAuthURL     = "https://accounts.spotify.com/authorize"
	SpotifyTokenURL    = "https://accounts.spotify.com/api/token"
	SpotifyAPIURL      = "https://api.spotify.com/v1"
	SpotifyScopes      = "user-read-playback-state user-modify-playback-state user-read-currently-playing playlist-read-private"
)

// Mesh log reader
const (
	MeshTailLines  = 500
	MeshTailBlock  = 64 * 1024
	MaxActivity    = 20
	MaxChannelMsgs = 50
)

// Live push
const (
	WSBufferSize = 4096
	PushInterval = 15 * time.Second
	WSWriteWait  = 10 * time.Second
)

// Persistence
const (
	StateFileMode  = 0600
	StateDirMode   = 0700
	RedisKeyPrefix = "pidash:"
)

// MaskedValue is what sensitive config values look like to callers.
const MaskedValue = "••••••••"

// Messages
const (
	MsgMethodNotAllowed = "Method not allowed"
	MsgInvalidJSON      = "Invalid JSON"
	MsgProfileNotFound  = "Profile not found"
	MsgInvalidProfileID = "Invalid profile ID"
)
