// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command stepflow-migrate applies the repository schema to the
// configured postgres database and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/stepflow/stepflow/internal/config"
	"github.com/stepflow/stepflow/internal/repository"
)

func main() {
	seedPath := flag.String("seed", "", "optional YAML seed file of starter projects/tasks")
	flag.Parse()

	cfg, err := config.NewConfig(os.Getenv("STEPFLOW_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	db, err := repository.NewGormDB(&cfg.Database)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to connect to database:", err)
		os.Exit(1)
	}

	if err := db.AutoMigrate(); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to run migrations:", err)
		os.Exit(1)
	}

	fmt.Println("Migrations applied successfully")

	if *seedPath != "" {
		if err := applySeed(context.Background(), db, *seedPath); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to apply seed file:", err)
			os.Exit(1)
		}
		fmt.Println("Seed data applied successfully")
	}
}
