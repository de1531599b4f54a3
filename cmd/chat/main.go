package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/roomchat/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if err := newRootCmd(cfg.Client, os.Stdin, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
