package profile

import (
	log "github.com/sirupsen/logrus"

	"pidash/internal/config"
)

// NewStore selects the backend: Redis when configured and reachable, the
// file-per-profile store otherwise.
func NewStore(cfg *config.Config) (Store, error) {
	if cfg.RedisHost != "" {
		store, err := NewRedisStore(cfg.RedisHost, cfg.RedisPort, cfg.RedisUser, cfg.RedisPassword)
		if err != nil {
			log.Printf("⚠️  Redis connection failed: %v", err)
			log.Println("💾 Falling back to file-backed profile store")
			return NewFileStore(cfg.StateDir, cfg.StateKey)
		}
		log.Printf("💾 Using Redis profile store: %s:%s", cfg.RedisHost, cfg.RedisPort)
		return store, nil
	}

	log.Printf("💾 Using file-backed profile store: %s", cfg.StateDir)
	return NewFileStore(cfg.StateDir, cfg.StateKey)
}
