package main

import (
	"flag"
	"fmt"
	"os"

	"crop-rotation/internal/config"
	"crop-rotation/pkg/database"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up, down or status")
	steps := flag.Int("steps", 1, "Number of migrations to roll back with -direction=down")
	path := flag.String("path", "", "Migrations directory (defaults to database.migrations_path)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	dir := cfg.Database.MigrationsPath
	if *path != "" {
		dir = *path
	}
	url := cfg.Database.URL()

	switch *direction {
	case "up":
		err = database.MigrateUp(url, dir)
	case "down":
		err = database.MigrateDown(url, dir, *steps)
	case "status":
		var status database.MigrationStatus
		status, err = database.Status(url, dir)
		if err == nil {
			fmt.Printf("Version: %d\nDirty:   %t\n", status.Version, status.Dirty)
			return
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown direction %q (want up, down or status)\n", *direction)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Migration %s completed successfully\n", *direction)
}
