package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"

	"absenbot/internal/config"
	"absenbot/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer database.Close()

	files, err := filepath.Glob("migrations/*.sql")
	if err != nil {
		log.Fatalf("Error listing migrations: %v", err)
	}
	sort.Strings(files)

	for _, file := range files {
		migration, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("Error reading migration file %s: %v", file, err)
		}
		if _, err := database.Exec(ctx, string(migration)); err != nil {
			log.Fatalf("Error executing migration %s: %v", file, err)
		}
		log.Printf("Applied %s", file)
	}

	log.Println("Migration completed successfully")
}
