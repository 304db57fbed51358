package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/hubrts/youtube-command-deck/internal/app"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment")
	}

	application, err := app.New()
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer application.Close()

	application.Start()
	application.Log.Info("Command deck listening", "addr", application.Cfg.ServerAddr)
	if err := application.Run(); err != nil {
		application.Log.Error("Server exited", "error", err)
	}
}
