package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"

	"github.com/resoundfm/resound/internal/config"
	"github.com/resoundfm/resound/internal/engine"
	"github.com/resoundfm/resound/internal/logger"
	"github.com/resoundfm/resound/internal/seed"
	"github.com/resoundfm/resound/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	command := "dev"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "dev":
		run(200, 20, 80)
	case "test":
		run(30, 3, 15)
	default:
		fmt.Println("Usage: seed [dev|test]")
		fmt.Println("  dev   - Seed development database with realistic data")
		fmt.Println("  test  - Seed a minimal dataset")
		os.Exit(1)
	}
}

func run(tracks, users, eventsPerUser int) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	_ = gofakeit.Seed(time.Now().UnixNano())
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	eng, err := engine.New(cfg, db, db, rng)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	ctx := context.Background()
	seeder := seed.NewSeeder(eng)

	log.Printf("Seeding %d tracks...", tracks)
	ids, err := seeder.SeedTracks(ctx, tracks)
	if err != nil {
		log.Fatalf("Track seeding failed: %v", err)
	}

	log.Printf("Simulating %d listeners with ~%d events each...", users, eventsPerUser)
	if err := seeder.SeedListeners(ctx, ids, users, eventsPerUser); err != nil {
		log.Fatalf("Listener seeding failed: %v", err)
	}

	if err := eng.SaveState(ctx); err != nil {
		log.Fatalf("Failed to persist engine state: %v", err)
	}

	log.Printf("Done: %d tracks, %d listeners", len(ids), users)
}
