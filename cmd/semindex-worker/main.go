package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dshills/semindex-mcp/internal/vectorstore"
	"github.com/dshills/semindex-mcp/internal/worker"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("Semindex Worker\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Mode: %s\n", vectorstore.BuildMode)
		os.Exit(0)
	}

	// Stdout carries the response protocol; everything else goes to stderr.
	log.SetOutput(os.Stderr)
	log.SetPrefix("[semindex-worker] ")
	log.Printf("worker v%s starting (driver: %s)", version, vectorstore.DriverName)

	runner := worker.NewRunner(os.Stdin, os.Stdout)
	defer func() { _ = runner.Close() }()

	if err := runner.Run(context.Background()); err != nil {
		log.Fatalf("worker terminated: %v", err)
	}
	log.Println("worker stopped")
}
