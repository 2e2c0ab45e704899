package main

import (
	"os"

	"vitalred_worker/adapter/in/cli"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if exists (for local development). The logger is
	// configured by the CLI once the config is read.
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
