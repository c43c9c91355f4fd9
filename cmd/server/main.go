// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/racewire/racewire/internal/cache"
	"github.com/racewire/racewire/internal/database"
	"github.com/racewire/racewire/internal/handlers"
	"github.com/racewire/racewire/internal/matchmaking"
	"github.com/racewire/racewire/internal/middleware"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	ctx := context.Background()

	// Postgres backs the matchmaking persistence port only; the race plane
	// runs fine without it.
	var factory matchmaking.MatchFactory
	if err := database.Connect(ctx); err != nil {
		logger.Warnf("database unavailable, matchmaking persistence disabled: %v", err)
	} else {
		factory = database.MatchStore{}
	}

	// Redis carries finished race results to the history worker. Optional.
	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("redis unavailable, result publishing disabled: %v", err)
	}

	srv := handlers.NewRaceServer(logger, factory)
	go srv.Queue.Run(ctx)

	mux := http.NewServeMux()

	// race websocket
	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.RaceWSHandler(logger, srv),
	)))

	// race listing
	mux.Handle("/races", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.ListRacesHandler(srv),
	)))

	mux.HandleFunc("/healthz", handlers.HealthHandler)

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
