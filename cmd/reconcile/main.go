package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"settlement-reconciliation-engine/internal/commands"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
