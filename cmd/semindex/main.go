package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dshills/semindex-mcp/internal/mcp"
	"github.com/dshills/semindex-mcp/internal/service"
	"github.com/dshills/semindex-mcp/internal/vectorstore"
	"github.com/dshills/semindex-mcp/internal/worker"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("Semindex MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", vectorstore.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", vectorstore.DriverName)
		fmt.Printf("Vector Extension: %v\n", vectorstore.VectorExtensionAvailable)
		os.Exit(0)
	}

	// Log startup info to stderr (stdout reserved for MCP protocol)
	log.SetOutput(os.Stderr)
	log.Printf("Semindex MCP Server v%s starting...", version)
	log.Printf("Build Mode: %s, Driver: %s, Vector Extension: %v",
		vectorstore.BuildMode, vectorstore.DriverName, vectorstore.VectorExtensionAvailable)

	workerPath, err := resolveWorkerPath()
	if err != nil {
		log.Fatalf("Failed to locate worker binary: %v", err)
	}

	svc := service.New(service.Config{
		WorkerPath: workerPath,
		Init: worker.InitRequest{
			DBPath:      os.Getenv("SEMINDEX_DB_PATH"),
			SnapshotDir: os.Getenv("SEMINDEX_SNAPSHOT_DIR"),
			Provider:    os.Getenv("SEMINDEX_PROVIDER"),
			APIKey:      os.Getenv("SEMINDEX_API_KEY"),
			Host:        os.Getenv("SEMINDEX_HOST"),
			Branch:      os.Getenv("SEMINDEX_BRANCH"),
		},
	})

	server := mcp.NewServer(svc)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		log.Println("MCP server ready, listening on stdio...")
		errChan <- server.Serve(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}

	log.Println("Server stopped")
}

// resolveWorkerPath finds the worker binary: the SEMINDEX_WORKER_PATH
// override first, then a sibling of this executable.
func resolveWorkerPath() (string, error) {
	if path := os.Getenv("SEMINDEX_WORKER_PATH"); path != "" {
		return path, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(self), "semindex-worker"), nil
}
