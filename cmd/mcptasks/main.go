// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command mcptasks runs a task-backed MCP server over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcp-tasks/core/internal/log"
	"github.com/mcp-tasks/core/internal/mcp/server"
	"github.com/mcp-tasks/core/pkg/tasks"
	"github.com/mcp-tasks/core/pkg/tasks/backend/memory"
	"github.com/mcp-tasks/core/pkg/tasks/backend/sqlite"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		backendType = flag.String("backend", "memory", "Task storage backend (memory, sqlite)")
		sqlitePath  = flag.String("sqlite-path", "mcptasks.db", "SQLite database path (used when backend=sqlite)")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mcptasks %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, closeBackend, err := openBackend(ctx, *backendType, *sqlitePath)
	if err != nil {
		logger.Error("failed to open task backend", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeBackend()

	store := tasks.NewGenericTaskStore(backend, tasks.DefaultConfig())
	router := tasks.NewTaskRouter(store, nil, logger)

	srv, err := server.NewServer(server.ServerConfig{
		Name:       "mcptasks",
		Version:    version,
		LogLevel:   *logLevel,
		TaskRouter: router,
	})
	if err != nil {
		logger.Error("failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Fprintf(os.Stderr, "received signal %v, shutting down\n", sig)
		cancel()
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// openBackend constructs the configured StorageBackend and a matching
// close function. The memory backend has nothing to close.
func openBackend(ctx context.Context, backendType, sqlitePath string) (tasks.StorageBackend, func(), error) {
	switch backendType {
	case "", "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		b, err := sqlite.Open(ctx, sqlite.Config{Path: sqlitePath})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		return b, func() { _ = b.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want memory or sqlite)", backendType)
	}
}
