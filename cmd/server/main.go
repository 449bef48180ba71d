package main

import (
	"fmt"
	"log"
	"net/http"

	handler "workspace-agent-backend/api"
	"workspace-agent-backend/pkg/config"
	"workspace-agent-backend/pkg/database"
)

func main() {
	cfg := config.GetCached()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	db, err := database.NewDatabase(database.DatabaseConfig{
		UseLocal:    cfg.UseLocalDB,
		PostgresDSN: cfg.PostgresDSN,
	})
	if err != nil {
		log.Fatalf("❌ Database error: %v", err)
	}
	defer db.Close()

	router := handler.NewRouter(cfg, db)

	addr := ":" + cfg.Port
	fmt.Printf("🚀 workspace-agent-backend listening on %s (env=%s)\n", addr, cfg.Environment)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
}
