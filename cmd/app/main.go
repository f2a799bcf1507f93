package main

import (
	"flag"
	"log"
	"os"

	"TradeEngine/internal/di"
	"TradeEngine/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("env=%s symbol=%s exchange=%s persistence=%s",
		cfg.Environment, cfg.Engine.Symbol, cfg.Exchange.Type, cfg.Persistence.Backend)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	err = app.Run()
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
