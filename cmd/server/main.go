// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-seedvault.
//
// go-seedvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jeremyhahn/go-seedvault/internal/cli"
	"github.com/jeremyhahn/go-seedvault/internal/config"
	"github.com/jeremyhahn/go-seedvault/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-seedvault server\n")
		fmt.Printf("  Version:    %s\n", cli.Version)
		fmt.Printf("  Git Commit: %s\n", cli.GitCommit)
		fmt.Printf("  Built:      %s\n", cli.BuildDate)
		os.Exit(0)
	}

	if envConfig := os.Getenv("SEEDVAULT_CONFIG"); envConfig != "" && *configPath == "" {
		*configPath = envConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()
	srv, err := server.New(ctx, cfg, server.WithConfigPath(*configPath))
	if err != nil {
		slog.Error("Failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}
