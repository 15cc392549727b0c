// Package main is the entrypoint for the verification gateway.
// The gateway issues one-time codes over SMS and email, verifies them, and
// issues sessions once an account's required channels are verified.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/aelexs/verification-gateway/internal/server"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "fatal: load .env: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:    "verifygw",
		Version: version,
		Setup:   setup,
	}, nil)
}
