package main

import (
	"log"
	"os"

	"poolcontrol/internal/handlers"
	"poolcontrol/internal/routes"
	"poolcontrol/pkg/config"
	"poolcontrol/pkg/solana"
)

func main() {
	// Initialize database
	config.InitDB()

	// Initialize RabbitMQ (optional, will log warning if not configured)
	if os.Getenv("RABBITMQ_HOST") != "" {
		config.InitRabbitMQ()
		defer func() {
			if config.RabbitMQ != nil {
				config.RabbitMQ.Close()
			}
		}()
		log.Println("RabbitMQ initialized successfully")
	} else {
		log.Println("RabbitMQ not configured, skipping initialization")
	}

	// Initialize the custody layer
	vault, err := solana.NewVaultManagerFromEnv()
	if err != nil {
		log.Fatal("Failed to initialize vault manager:", err)
	}
	handlers.SetVault(vault)

	// Set up router
	r := routes.SetupRouter()

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
