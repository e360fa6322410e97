package main

import (
	"log"
	"os"

	"github.com/DeadlyParkour777/peer-review/review_service/cmd/app"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: ./lifecycle [serve|all|expire|reassign|warnings|reminders|verifications]")
	}
	command := os.Args[1]

	cfg := config.ConfigInit()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if command == "serve" {
		if err := application.Schedule(); err != nil {
			log.Fatalf("Scheduler failed: %v", err)
		}
		return
	}

	results, err := application.RunJob(command)
	application.Close()
	if err != nil && len(results) == 0 {
		log.Fatalf("Failed to run %s: %v", command, err)
	}

	failed := err != nil
	for _, r := range results {
		log.Printf("Job %s: count=%d item_errors=%d", r.Job, r.Result.Count, len(r.Result.Errors))
		for _, itemErr := range r.Result.Errors {
			log.Printf("  %v", itemErr)
		}
		if r.Err != nil {
			log.Printf("Job %s failed: %v", r.Job, r.Err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}
