// Command conviction aggregates smart-money signals into per-ticker
// conviction scores.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"conviction-engine/internal/cli"
	"conviction-engine/internal/logging"
)

func main() {
	// A .env file is optional; CONVICTION_* variables may come from the shell.
	_ = godotenv.Load()

	logger := logging.NewLogger()
	os.Exit(cli.Execute(logger))
}
