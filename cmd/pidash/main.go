package main

import (
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"pidash/internal/config"
	"pidash/internal/server"
)

func main() {
	// Optional .env next to the binary; real deployments use systemd env.
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	s, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	s.Run()
}
