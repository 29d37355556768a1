package main

import (
	"flag"
	"log"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/app"
)

func main() {
	configPath := flag.String("config", "", "optional config file; environment variables override it")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
