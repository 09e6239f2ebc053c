package main

import (
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"toonframe_back/characters"
	"toonframe_back/generation"
	"toonframe_back/sketches"
	"toonframe_back/stories"
	"toonframe_back/storyboards"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func main() {
	mustLoadEnv()

	r := gin.Default()
	r.Use(cors.Default())

	if _, err := generation.RegisterRoutes(r); err != nil {
		log.Fatalf("register generation routes: %v", err)
	}

	if _, err := characters.RegisterRoutes(r); err != nil {
		log.Fatalf("register character routes: %v", err)
	}

	scenes, err := storyboards.RegisterRoutes(r)
	if err != nil {
		log.Fatalf("register storyboard routes: %v", err)
	}

	if _, err := stories.RegisterRoutes(r, scenes); err != nil {
		log.Fatalf("register story routes: %v", err)
	}

	if _, err := sketches.RegisterRoutes(r); err != nil {
		log.Fatalf("register sketch routes: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}
