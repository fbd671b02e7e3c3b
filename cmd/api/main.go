package main

import (
	"context"
	"log"

	"agrimap-backend/internal/bootstrap"
	"agrimap-backend/internal/shared/config"
	"agrimap-backend/internal/shared/server"
)

func main() {
	cfg := config.Load()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.Janitor.Run(ctx)

	addr := server.Addr(cfg.Port)
	log.Printf("Starting API server on %s", addr)

	if err := app.Router.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
