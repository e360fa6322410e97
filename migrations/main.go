package main

import (
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables.")
	}

	if len(os.Args) < 2 {
		log.Fatal("Usage: ./migrate [up|down|version]")
	}
	command := os.Args[1]

	sourceURL := getEnv("MIGRATIONS_PATH", "file:///migrations/migrate")
	log.Printf("Running migration command %q against %s", command, sourceURL)

	m, err := migrate.New(sourceURL, getPostgresDSN())
	if err != nil {
		log.Fatalf("Cannot create migrate instance: %v", err)
	}
	defer m.Close()

	var errMigration error
	switch command {
	case "up":
		errMigration = m.Up()
	case "down":
		errMigration = m.Down()
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("Cannot read migration version: %v", err)
		}
		log.Printf("Schema version %d (dirty=%v)", version, dirty)
		return
	default:
		log.Fatalf("Unknown command: %s", command)
	}

	if errMigration != nil && errMigration != migrate.ErrNoChange {
		log.Fatalf("Migration failed: %v", errMigration)
	}

	log.Println("Migration finished successfully!")
}

func getPostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_NAME", "peer_review"),
	)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
