// Package main provides the tabload CLI.
package main

import (
	"github.com/joho/godotenv"

	"github.com/catalogd/tabload/internal/cli"
)

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	cli.Execute()
}
